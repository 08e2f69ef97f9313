package utils_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/omni/alias-relay/utils"
)

const testKey = "59c6995e998f97a5a0044966f094538c5f6270e8b0aa7d9d0ad2f83f5f0f8a5d"

func TestSignText(t *testing.T) {
	t.Parallel()

	key, err := utils.ParsePrivateKey("0x" + testKey)
	require.NoError(t, err)

	msg := []byte("relayer.example wants you to sign in")
	sig, err := utils.SignText(key, msg)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	require.GreaterOrEqual(t, sig[64], byte(27))

	signer, err := utils.RestoreSignerAddress(msg, sig)
	require.NoError(t, err)
	require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), signer)
	require.GreaterOrEqual(t, sig[64], byte(27), "signature must not be modified")
}

func TestParsePrivateKey(t *testing.T) {
	t.Parallel()

	for _, test := range []struct {
		Name  string
		Input string
		Error bool
	}{
		{Name: "with prefix", Input: "0x" + testKey},
		{Name: "without prefix", Input: testKey},
		{Name: "garbage", Input: "0xzz", Error: true},
		{Name: "empty", Input: "", Error: true},
	} {
		test := test
		t.Run(test.Name, func(t *testing.T) {
			t.Parallel()
			_, err := utils.ParsePrivateKey(test.Input)
			if test.Error {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}
