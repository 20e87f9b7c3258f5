package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GouniManikumar12/aip-server/crypto"
)

func writeBidderConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bidders.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func pemKey(t *testing.T) string {
	t.Helper()
	pub, _, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	pem, err := pub.MarshalPEM()
	require.NoError(t, err)
	return pem
}

func indent(s string) string {
	return strings.ReplaceAll(strings.TrimRight(s, "\n"), "\n", "\n      ")
}

func TestLoadFile(t *testing.T) {
	path := writeBidderConfig(t, fmt.Sprintf(`bidders:
  - name: alpha
    endpoint: http://localhost:9001/bid
    pools: [electronics, general]
    public_key: |
      %s
  - name: beta
    pools: [general]
    public_key: |
      %s
`, indent(pemKey(t)), indent(pemKey(t))))

	reg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, 2, reg.Len())

	alpha, ok := reg.LookupByName("alpha")
	require.True(t, ok)
	require.Equal(t, "http://localhost:9001/bid", alpha.Endpoint)
	require.Equal(t, []string{"electronics", "general"}, alpha.Pools)

	key, ok := reg.PublicKey("alpha")
	require.True(t, ok)
	require.Len(t, key.Bytes(), 32)

	_, ok = reg.PublicKey("mallory")
	require.False(t, ok)
}

func TestLoadFileDefaultsPools(t *testing.T) {
	path := writeBidderConfig(t, fmt.Sprintf(`bidders:
  - name: alpha
    public_key: |
      %s
`, indent(pemKey(t))))

	reg, err := LoadFile(path)
	require.NoError(t, err)

	alpha, ok := reg.LookupByName("alpha")
	require.True(t, ok)
	require.Equal(t, []string{"default"}, alpha.Pools)
	require.Equal(t, int64(DefaultTimeoutMillis), alpha.TimeoutMillis)
}

func TestLoadFileRejectsBadKey(t *testing.T) {
	path := writeBidderConfig(t, `bidders:
  - name: alpha
    pools: [general]
    public_key: not-a-pem-block
`)

	_, err := LoadFile(path)
	require.ErrorContains(t, err, "alpha")
}

func TestLoadFileRejectsUnknownFields(t *testing.T) {
	path := writeBidderConfig(t, fmt.Sprintf(`bidders:
  - name: alpha
    pools: [general]
    secret_key: oops
    public_key: |
      %s
`, indent(pemKey(t))))

	_, err := LoadFile(path)
	require.Error(t, err)
}

func TestAddRejectsDuplicateNames(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Add(&Bidder{Name: "alpha"}))
	require.ErrorContains(t, reg.Add(&Bidder{Name: "alpha"}), "duplicate")
}

func TestLookupByPools(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Add(&Bidder{Name: "gamma", Pools: []string{"electronics"}}))
	require.NoError(t, reg.Add(&Bidder{Name: "alpha", Pools: []string{"electronics", "general"}}))
	require.NoError(t, reg.Add(&Bidder{Name: "beta", Pools: []string{"travel"}}))

	// A bidder subscribed to several matching pools appears once, and the
	// result is ordered by name.
	invited := reg.LookupByPools([]string{"electronics", "general"})
	require.Len(t, invited, 2)
	require.Equal(t, "alpha", invited[0].Name)
	require.Equal(t, "gamma", invited[1].Name)

	require.Empty(t, reg.LookupByPools([]string{"automotive"}))
}

func TestAll(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Add(&Bidder{Name: "beta"}))
	require.NoError(t, reg.Add(&Bidder{Name: "alpha"}))

	all := reg.All()
	require.Len(t, all, 2)
	require.Equal(t, "alpha", all[0].Name)
	require.Equal(t, "beta", all[1].Name)
}
