package signature

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarryline/quarryline/internal/shared"
)

func TestBuilderBuildsCompleteSignature(t *testing.T) {
	at := time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)
	sig, err := NewBuilder().
		Signer("  Jane Doe ", "Site Manager").
		WithImage("data:image/png;base64,AAAA").
		At(32.01, -103.51).
		Build(at)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", sig.SignerName)
	assert.Equal(t, "Site Manager", sig.SignerTitle)
	assert.Equal(t, at, sig.SignedAt)
	assert.Empty(t, sig.Photo)
	assert.True(t, sig.Complete())
}

func TestBuilderReportsFirstMissingStep(t *testing.T) {
	cases := []struct {
		name string
		b    *Builder
		want error
	}{
		{"missing name", NewBuilder().Signer("", "Site Manager").WithImage("img"), ErrSignerRequired},
		{"missing title", NewBuilder().Signer("Jane Doe", "   ").WithImage("img"), ErrSignerRequired},
		{"missing everything", NewBuilder(), ErrSignerRequired},
		{"missing image", NewBuilder().Signer("Jane Doe", "Site Manager"), ErrImageRequired},
		{"missing location", NewBuilder().Signer("Jane Doe", "Site Manager").WithImage("img"), ErrLocationRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.b.Build(time.Now())
			require.ErrorIs(t, err, tc.want)
			assert.ErrorIs(t, err, shared.ErrValidationFailed)
		})
	}
}

func TestBuilderRejectsBadCoordinates(t *testing.T) {
	err := NewBuilder().Signer("Jane Doe", "Site Manager").WithImage("img").At(120, 0).Validate()
	require.ErrorIs(t, err, shared.ErrValidationFailed)
	assert.Contains(t, err.Error(), "lat")
}

func TestBuilderAcceptsExplicitOrigin(t *testing.T) {
	sig, err := NewBuilder().Signer("Jane Doe", "Site Manager").WithImage("img").At(0, 0).Build(time.Now())
	require.NoError(t, err)
	assert.Zero(t, sig.Lat)
	assert.Zero(t, sig.Lng)
}

func TestSignatureComplete(t *testing.T) {
	var nilSig *Signature
	assert.False(t, nilSig.Complete())
	assert.False(t, (&Signature{SignerName: "a", SignerTitle: "b"}).Complete())
}
