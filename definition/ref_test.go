package definition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRefRoundTrip(t *testing.T) {
	tests := []struct {
		in   string
		kind RefKind
		name string
	}{
		{in: "refs/heads/main", kind: RefBranch, name: "main"},
		{in: "refs/heads/feature/nested", kind: RefBranch, name: "feature/nested"},
		{in: "refs/tags/v1.0.0", kind: RefTag, name: "v1.0.0"},
	}

	for _, tc := range tests {
		ref, err := ParseRef(tc.in)
		require.NoError(t, err, "ParseRef(%q)", tc.in)
		assert.Equal(t, tc.kind, ref.Kind)
		assert.Equal(t, tc.name, ref.Name)
		assert.Equal(t, tc.in, ref.String())
	}
}

func TestParseRefErrors(t *testing.T) {
	for _, in := range []string{
		"",
		"main",
		"refs/",
		"refs/heads",
		"heads/main",
		"refs/remotes/origin/main",
		"refsXheads/main",
	} {
		_, err := ParseRef(in)
		assert.ErrorIs(t, err, ErrRefParse, "ParseRef(%q)", in)
	}
}

func TestRefMatches(t *testing.T) {
	tests := []struct {
		name   string
		filter Ref
		ref    Ref
		want   bool
	}{
		{
			name:   "anchored branch match",
			filter: Ref{Kind: RefBranch, Name: "^main$"},
			ref:    Ref{Kind: RefBranch, Name: "main"},
			want:   true,
		},
		{
			name:   "unanchored pattern matches substring",
			filter: Ref{Kind: RefBranch, Name: "main"},
			ref:    Ref{Kind: RefBranch, Name: "not-main"},
			want:   true,
		},
		{
			name:   "anchored pattern rejects substring",
			filter: Ref{Kind: RefBranch, Name: "^main$"},
			ref:    Ref{Kind: RefBranch, Name: "not-main"},
			want:   false,
		},
		{
			name:   "branch filter never matches tag",
			filter: Ref{Kind: RefBranch, Name: ".*"},
			ref:    Ref{Kind: RefTag, Name: "v1"},
			want:   false,
		},
		{
			name:   "tag filter never matches branch",
			filter: Ref{Kind: RefTag, Name: ".*"},
			ref:    Ref{Kind: RefBranch, Name: "main"},
			want:   false,
		},
		{
			name:   "tag wildcard",
			filter: Ref{Kind: RefTag, Name: "v.*"},
			ref:    Ref{Kind: RefTag, Name: "v1.2.3"},
			want:   true,
		},
		{
			name:   "invalid regex matches nothing",
			filter: Ref{Kind: RefBranch, Name: "("},
			ref:    Ref{Kind: RefBranch, Name: "("},
			want:   false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.filter.Matches(tc.ref))
		})
	}
}
