package taskorder

import (
	"testing"
)

func TestParseResourceHints_StructuredArray(t *testing.T) {
	raw := []byte(`[{"sku_category":"RAW_NET","sku_code":"uk-*","attributes":{"geo":"UK"},"min_count":2}]`)

	hints, err := ParseResourceHints(raw)
	if err != nil {
		t.Fatalf("ParseResourceHints: %v", err)
	}
	if len(hints) != 1 {
		t.Fatalf("hints = %d, want 1", len(hints))
	}
	h := hints[0]
	if h.SKUCategory != "RAW_NET" {
		t.Errorf("sku_category = %q, want RAW_NET", h.SKUCategory)
	}
	if h.SKUCode == nil || *h.SKUCode != "uk-*" {
		t.Errorf("sku_code = %v, want uk-*", h.SKUCode)
	}
	if h.Attributes["geo"] != "UK" {
		t.Errorf("attributes = %v, want geo=UK", h.Attributes)
	}
	if h.MinCount != 2 {
		t.Errorf("min_count = %d, want 2", h.MinCount)
	}
}

func TestParseResourceHints_DoubleEncodedString(t *testing.T) {
	// A producer that wrote the hints column as a JSON string holding the
	// array, rather than the array itself.
	raw := []byte(`"[{\"sku_category\":\"RAW_NET\",\"min_count\":1}]"`)

	hints, err := ParseResourceHints(raw)
	if err != nil {
		t.Fatalf("ParseResourceHints: %v", err)
	}
	if len(hints) != 1 || hints[0].SKUCategory != "RAW_NET" {
		t.Fatalf("hints = %+v, want one RAW_NET hint", hints)
	}
}

func TestParseResourceHints_GoString(t *testing.T) {
	hints, err := ParseResourceHints(`[{"sku_category":"CREDENTIAL","min_count":1}]`)
	if err != nil {
		t.Fatalf("ParseResourceHints: %v", err)
	}
	if len(hints) != 1 || hints[0].SKUCategory != "CREDENTIAL" {
		t.Fatalf("hints = %+v, want one CREDENTIAL hint", hints)
	}
}

func TestParseResourceHints_MinCountDefaultsToOne(t *testing.T) {
	hints, err := ParseResourceHints([]byte(`[{"sku_category":"RAW_NET"}]`))
	if err != nil {
		t.Fatalf("ParseResourceHints: %v", err)
	}
	if hints[0].MinCount != 1 {
		t.Fatalf("min_count = %d, want defaulted 1", hints[0].MinCount)
	}
}

func TestParseResourceHints_Nil(t *testing.T) {
	hints, err := ParseResourceHints(nil)
	if err != nil {
		t.Fatalf("ParseResourceHints: %v", err)
	}
	if hints != nil {
		t.Fatalf("hints = %+v, want nil", hints)
	}
}

func TestParseResourceHints_Malformed(t *testing.T) {
	if _, err := ParseResourceHints([]byte(`{"not":"an array"}`)); err == nil {
		t.Fatal("expected error for non-array hints")
	}
}
