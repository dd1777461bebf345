package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/horacite/horacite/internal/config"
)

// cheapArgon keeps argon2id tests fast.
var cheapArgon = argonParams{time: 1, memory: 8 * 1024, threads: 1, keyLen: 32, saltLen: 16}

func newTestHasher(t *testing.T, algorithm string) *hasher {
	t.Helper()
	h, err := NewPasswordHasher(HasherConfig{Algorithm: algorithm, BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)
	impl := h.(*hasher)
	impl.argon = cheapArgon
	return impl
}

func TestHasher_RoundTrip(t *testing.T) {
	for _, alg := range []string{config.HashBcrypt, config.HashArgon2id} {
		t.Run(alg, func(t *testing.T) {
			h := newTestHasher(t, alg)

			digest, err := h.Hash("Secret123!")
			require.NoError(t, err)
			assert.NotContains(t, digest, "Secret123!")

			assert.True(t, h.Verify("Secret123!", digest))
			assert.False(t, h.Verify("secret123!", digest))
			assert.False(t, h.NeedsUpgrade(digest))
		})
	}
}

func TestHasher_SaltedDigestsDiffer(t *testing.T) {
	h := newTestHasher(t, config.HashArgon2id)
	a, err := h.Hash("same")
	require.NoError(t, err)
	b, err := h.Hash("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestHasher_VerifiesEitherAlgorithm(t *testing.T) {
	bc := newTestHasher(t, config.HashBcrypt)
	ar := newTestHasher(t, config.HashArgon2id)

	bcDigest, err := bc.Hash("pw-One-1")
	require.NoError(t, err)
	arDigest, err := ar.Hash("pw-One-1")
	require.NoError(t, err)

	assert.True(t, ar.Verify("pw-One-1", bcDigest))
	assert.True(t, bc.Verify("pw-One-1", arDigest))

	assert.True(t, ar.NeedsUpgrade(bcDigest), "bcrypt digests migrate to argon2id")
	assert.True(t, bc.NeedsUpgrade(arDigest), "argon2id digests migrate to bcrypt")
}

func TestHasher_NeedsUpgradeOnWeakerParameters(t *testing.T) {
	h := newTestHasher(t, config.HashBcrypt)
	weak, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	require.NoError(t, err)
	h.cost = bcrypt.MinCost + 1
	assert.True(t, h.NeedsUpgrade(string(weak)))

	ar := newTestHasher(t, config.HashArgon2id)
	digest, err := ar.Hash("pw")
	require.NoError(t, err)
	ar.argon.time = cheapArgon.time + 1
	assert.True(t, ar.NeedsUpgrade(digest))
}

func TestHasher_MalformedDigestsNeverMatch(t *testing.T) {
	h := newTestHasher(t, config.HashArgon2id)
	for _, digest := range []string{
		"",
		"plaintext",
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdA$aGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$!!!$aGFzaA",
		"$argon2id$v=19$m=8192,t=1,p=1$c2FsdA$",
		"$2b$04$short",
	} {
		assert.False(t, h.Verify("pw", digest), "%q", digest)
		assert.True(t, h.NeedsUpgrade(digest), "%q", digest)
	}
}

func TestHasher_ArgonDigestFormat(t *testing.T) {
	h := newTestHasher(t, config.HashArgon2id)
	digest, err := h.Hash("pw")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(digest, "$argon2id$v=19$m=8192,t=1,p=1$"), digest)
	assert.Len(t, strings.Split(digest, "$"), 6)
}

func TestNewPasswordHasher_Rejects(t *testing.T) {
	_, err := NewPasswordHasher(HasherConfig{Algorithm: "md5"})
	assert.Error(t, err)

	_, err = NewPasswordHasher(HasherConfig{Algorithm: config.HashBcrypt, BcryptCost: 2})
	assert.Error(t, err)
}
