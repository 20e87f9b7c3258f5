package validation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GouniManikumar12/aip-server/protocol"
)

func TestRegistryCompilesAllSchemas(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)
	for _, name := range []string{
		SchemaContextRequest, SchemaBidResponse, SchemaEventCallback, SchemaRecommendationRequest,
	} {
		require.Contains(t, reg.schemas, name)
	}
}

func TestValidateContextRequest(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	valid := []byte(`{
		"request_id": "ctx_1", "session_id": "sess_1",
		"query_text": "trail shoes", "timestamp": "2026-08-25T10:00:00Z",
		"pools": ["retail"], "ext": {"vendor": {"k": "v"}}
	}`)
	require.NoError(t, reg.Validate(SchemaContextRequest, valid))

	missing := []byte(`{"session_id": "sess_1", "query_text": "x", "timestamp": "t"}`)
	err = reg.Validate(SchemaContextRequest, missing)
	require.Equal(t, protocol.KindSchemaInvalid, protocol.KindOf(err))

	badPools := []byte(`{
		"request_id": "ctx_1", "session_id": "s", "query_text": "x",
		"timestamp": "t", "pools": "retail"
	}`)
	err = reg.Validate(SchemaContextRequest, badPools)
	require.Equal(t, protocol.KindSchemaInvalid, protocol.KindOf(err))
}

func TestValidateBidResponse(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	valid := []byte(`{
		"auction_id": "ctx_1", "bidder": "alpha", "price": "1.50",
		"pricing_model": "CPC", "timestamp": "2026-08-25T10:00:00Z",
		"nonce": "n-1", "signature": "c2ln"
	}`)
	require.NoError(t, reg.Validate(SchemaBidResponse, valid))

	// Numeric prices are accepted on the wire.
	numeric := []byte(`{
		"auction_id": "ctx_1", "bidder": "alpha", "price": 1.5,
		"pricing_model": "CPC", "timestamp": "t", "nonce": "n", "signature": "s"
	}`)
	require.NoError(t, reg.Validate(SchemaBidResponse, numeric))

	unsigned := []byte(`{
		"auction_id": "ctx_1", "bidder": "alpha", "price": "1.50",
		"pricing_model": "CPC", "timestamp": "t", "nonce": "n"
	}`)
	err = reg.Validate(SchemaBidResponse, unsigned)
	require.Equal(t, protocol.KindSchemaInvalid, protocol.KindOf(err))
}

func TestValidateEventCallback(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)

	valid := []byte(`{
		"auction_id": "ctx_1", "serve_token": "stk_abc", "bidder": "alpha",
		"nonce": "n-1", "timestamp": "t", "signature": "s",
		"event_type": "cpx_exposure"
	}`)
	require.NoError(t, reg.Validate(SchemaEventCallback, valid))

	noToken := []byte(`{
		"auction_id": "ctx_1", "bidder": "alpha",
		"nonce": "n-1", "timestamp": "t", "signature": "s"
	}`)
	err = reg.Validate(SchemaEventCallback, noToken)
	require.Equal(t, protocol.KindSchemaInvalid, protocol.KindOf(err))
}

func TestValidateUnknownSchema(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)
	err = reg.Validate("no_such_schema", []byte(`{}`))
	require.Equal(t, protocol.KindInternal, protocol.KindOf(err))
}

func TestValidateRejectsMalformedJSON(t *testing.T) {
	reg, err := NewRegistry()
	require.NoError(t, err)
	err = reg.Validate(SchemaContextRequest, []byte(`{"request_id":`))
	require.Error(t, err)
}
