package weave

import (
	"fmt"

	"github.com/GouniManikumar12/aip-server/protocol"
)

// FormatCreative renders the winning creative as weave content together
// with its structured metadata. The content shape is fixed:
//
//	[Ad] {product} - {description} Learn more: {url}
//
// A no-bid auction produces empty content with empty metadata; the
// recommendation still completes.
func FormatCreative(result *protocol.AuctionResult) (string, *protocol.CreativeMetadata) {
	if result == nil || result.Winner == nil {
		return "", &protocol.CreativeMetadata{}
	}

	input := creativeInput(result.Winner.Creative)
	meta := &protocol.CreativeMetadata{
		BrandName:   stringField(input, "brand_name"),
		ProductName: stringField(input, "product_name"),
		Description: firstString(input["descriptions"]),
		URL:         firstString(input["resource_urls"]),
	}
	if meta.URL == "" {
		meta.URL = "#"
	}

	content := fmt.Sprintf("%s %s - %s Learn more: %s",
		protocol.AdLabel, meta.ProductName, meta.Description, meta.URL)
	return content, meta
}

// creativeInput accepts both creative layouts: fields nested under
// creative_input, or flat on the creative object.
func creativeInput(creative map[string]any) map[string]any {
	if nested, ok := creative["creative_input"].(map[string]any); ok {
		return nested
	}
	return creative
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func firstString(v any) string {
	switch list := v.(type) {
	case []any:
		if len(list) > 0 {
			s, _ := list[0].(string)
			return s
		}
	case []string:
		if len(list) > 0 {
			return list[0]
		}
	case string:
		return list
	}
	return ""
}
