package metrics

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/minicd/minicd/logger"
)

// The default port for dogstatsd
const defaultStatsdPort = 8125

type Config struct {
	Statsd     bool
	StatsdHost string
}

// Collector forwards counters and timings to a statsd agent. When statsd
// is disabled every method is a no-op, so callers never need to guard
// their instrumentation.
type Collector struct {
	config Config
	logger logger.Logger
	client *statsd.Client
}

func NewCollector(l logger.Logger, c Config) *Collector {
	return &Collector{
		config: c,
		logger: l,
	}
}

var portSuffixRegexp = regexp.MustCompile(`:\d+$`)

func (c *Collector) Start() error {
	if !c.config.Statsd {
		return nil
	}

	if !portSuffixRegexp.MatchString(c.config.StatsdHost) {
		c.config.StatsdHost += fmt.Sprintf(":%d", defaultStatsdPort)
	}

	c.logger.Info("Starting statsd metrics collection to %s", c.config.StatsdHost)

	client, err := statsd.New(c.config.StatsdHost, statsd.WithNamespace("minicd."))
	if err != nil {
		return err
	}
	c.client = client
	return nil
}

func (c *Collector) Stop() error {
	if c.client == nil {
		return nil
	}
	c.logger.Info("Stopping metrics collection")
	return c.client.Close()
}

// Count tracks how many times something happened.
func (c *Collector) Count(name string, value int64, tags ...string) {
	if c.client == nil {
		return
	}

	formatted := formatTags(tags)
	c.logger.Debug("Metrics count %s=%v %v", name, value, formatted)

	if err := c.client.Count(name, value, formatted, 1); err != nil {
		c.logger.Error("Metrics count failed: %v", err)
	}
}

// Timing sends timing information in milliseconds.
func (c *Collector) Timing(name string, value time.Duration, tags ...string) {
	if c.client == nil {
		return
	}

	formatted := formatTags(tags)
	c.logger.Debug("Metrics timing %s=%v %v", name, value, formatted)

	if err := c.client.Timing(name, value, formatted, 1); err != nil {
		c.logger.Error("Metrics timing failed: %v", err)
	}
}

// Datadog allows '.', '_' and alphas only.
// If we don't validate this here then the datadog error logs can fill up disk really quickly
var nameRegex = regexp.MustCompile(`[^\._a-zA-Z0-9]+`)

func formatName(name string) string {
	return nameRegex.ReplaceAllString(name, "_")
}

// formatTags sanitizes "key:value" tags, dropping any without both halves.
func formatTags(tags []string) []string {
	formatted := make([]string, 0, len(tags))
	for _, tag := range tags {
		k, v, ok := strings.Cut(tag, ":")
		if !ok || k == "" || v == "" {
			continue
		}
		formatted = append(formatted, formatName(k)+":"+formatName(v))
	}
	return formatted
}
