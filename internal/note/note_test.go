package note

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veilcore/internal/ledger"
	"veilcore/internal/veilerr"
)

func testNote(t *testing.T) *DepositNote {
	t.Helper()
	secret, err := GenerateSecret()
	require.NoError(t, err)
	preimage, err := GenerateNullifierPreimage()
	require.NoError(t, err)
	return &DepositNote{
		PoolID:            3,
		TokenType:         "sol",
		Denomination:      1_000_000_000,
		Secret:            secret,
		NullifierPreimage: preimage,
		Timestamp:         1735689600,
	}
}

func TestCodecRoundTrip(t *testing.T) {
	n := testNote(t)

	s, err := Encode(n)
	require.NoError(t, err)
	decoded, err := Decode(s)
	require.NoError(t, err)
	n.Version = CurrentVersion
	assert.Equal(t, n, decoded)
}

func TestCodecRoundTripWithRecipient(t *testing.T) {
	n := testNote(t)
	n.Recipient[0] = 0xab
	n.Recipient[31] = 0x01

	s, err := Encode(n)
	require.NoError(t, err)
	decoded, err := Decode(s)
	require.NoError(t, err)
	assert.Equal(t, n.Recipient, decoded.Recipient)
	assert.True(t, decoded.HasRecipient())
}

func TestCodecV1StillParseable(t *testing.T) {
	n := testNote(t)
	n.Version = 1

	s, err := Encode(n)
	require.NoError(t, err)
	decoded, err := Decode(s)
	require.NoError(t, err)
	assert.Equal(t, 1, decoded.Version)
	assert.Equal(t, n.Secret, decoded.Secret)
	assert.False(t, decoded.HasRecipient())

	// v1 has no recipient field at all
	n.Recipient[5] = 1
	_, err = Encode(n)
	assert.Error(t, err)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	n := testNote(t)
	good, err := Encode(n)
	require.NoError(t, err)

	cases := map[string]string{
		"empty":           "",
		"wrong prefix":    "wisp" + good[4:],
		"unknown version": "veil-v9" + good[7:],
		"missing fields":  "veil-v2-3-sol",
		"bad secret":      "veil-v2-3-sol-1000000000-nothex-" + n.NullifierPreimage.Hex() + "-1735689600",
		"zero denom":      "veil-v2-3-sol-0-" + n.Secret.Hex() + "-" + n.NullifierPreimage.Hex() + "-1735689600",
		"short secret":    "veil-v2-3-sol-1000000000-abcd-" + n.NullifierPreimage.Hex() + "-1735689600",
	}
	for name, in := range cases {
		_, err := Decode(in)
		require.Error(t, err, name)
		assert.Equal(t, veilerr.KindInvalidNoteFormat, veilerr.KindOf(err), name)
	}
}

func TestCommitmentDeterministicAndSensitive(t *testing.T) {
	n := testNote(t)

	c1 := Commitment(n.Secret, n.NullifierPreimage, n.Recipient)
	c2 := Commitment(n.Secret, n.NullifierPreimage, n.Recipient)
	assert.Equal(t, c1, c2)

	// flip one byte of each input in turn
	secret := n.Secret
	secret[7] ^= 0x01
	assert.NotEqual(t, c1, Commitment(secret, n.NullifierPreimage, n.Recipient))

	preimage := n.NullifierPreimage
	preimage[31] ^= 0x01
	assert.NotEqual(t, c1, Commitment(n.Secret, preimage, n.Recipient))

	var recipient ledger.Address
	recipient[12] = 0x42
	assert.NotEqual(t, c1, Commitment(n.Secret, n.NullifierPreimage, recipient))
}

func TestNullifierHashDomainSeparation(t *testing.T) {
	preimage, err := GenerateNullifierPreimage()
	require.NoError(t, err)

	h1 := NullifierHash(preimage, 1)
	h2 := NullifierHash(preimage, 2)
	assert.NotEqual(t, h1, h2)
	assert.Equal(t, h1, NullifierHash(preimage, 1))
}

func TestNoSecretCollisions(t *testing.T) {
	if testing.Short() {
		t.Skip("collision sweep")
	}
	seen := make(map[ledger.Hash]struct{}, 20000)
	for i := 0; i < 10000; i++ {
		s, err := GenerateSecret()
		require.NoError(t, err)
		p, err := GenerateNullifierPreimage()
		require.NoError(t, err)
		for _, v := range []ledger.Hash{s, p} {
			_, dup := seen[v]
			require.False(t, dup, "collision after %d draws", len(seen))
			seen[v] = struct{}{}
		}
	}
}
