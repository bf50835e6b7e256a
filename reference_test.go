package wasmpkg

import (
	"testing"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDigest = "sha256:93a44bbb96c751218e4c00d479e4c14358122a389acca16205b1e4d0dc5f9476"

func TestParseReference(t *testing.T) {
	tests := []struct {
		in   string
		want Reference
	}{
		{
			in:   "ghcr.io/example/app:v1.0.0",
			want: Reference{Registry: "ghcr.io", Repository: "example/app", Tag: "v1.0.0"},
		},
		{
			in:   "ghcr.io/example/app",
			want: Reference{Registry: "ghcr.io", Repository: "example/app", Tag: "latest"},
		},
		{
			in:   "ghcr.io/example/app@" + testDigest,
			want: Reference{Registry: "ghcr.io", Repository: "example/app", Digest: testDigest},
		},
		{
			in:   "ghcr.io/example/app:v1@" + testDigest,
			want: Reference{Registry: "ghcr.io", Repository: "example/app", Tag: "v1", Digest: testDigest},
		},
		{
			in:   "localhost:5000/app",
			want: Reference{Registry: "localhost:5000", Repository: "app", Tag: "latest"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseReference(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseReferenceDefaultRegistry(t *testing.T) {
	got, err := ParseReference("example/app:v1", name.WithDefaultRegistry("ghcr.io"))
	require.NoError(t, err)
	assert.Equal(t, "ghcr.io", got.Registry)
	assert.Equal(t, "ghcr.io/example/app:v1", got.String())
}

func TestParseReferenceInvalid(t *testing.T) {
	for _, in := range []string{"", "ghcr.io/Example/App", "ghcr.io/example/app@sha256:short"} {
		_, err := ParseReference(in)
		assert.Error(t, err, in)
	}
}

func TestReferenceName(t *testing.T) {
	ref := Reference{Registry: "ghcr.io", Repository: "example/app", Tag: "v1", Digest: testDigest}
	n, err := ref.Name()
	require.NoError(t, err)
	assert.Equal(t, testDigest, n.Identifier())
	assert.Equal(t, "ghcr.io/example/app:v1@"+testDigest, ref.String())

	ref.Digest = ""
	n, err = ref.Name()
	require.NoError(t, err)
	assert.Equal(t, "v1", n.Identifier())
}
