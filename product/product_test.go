package product

import "testing"

func TestRowAndBlobKeys(t *testing.T) {
	k := Key{ProductName: "DE416080", EditionNumber: 9, UpdateNumber: 6}
	if k.RowKey() != "9|6" {
		t.Errorf("RowKey() = %q", k.RowKey())
	}
	if k.BlobKey() != "DE416080-9-6" {
		t.Errorf("BlobKey() = %q", k.BlobKey())
	}
}

func TestKeyValidate(t *testing.T) {
	var table = []struct {
		key Key
		ok  bool
	}{
		{Key{"DE416080", 9, 6}, true},
		{Key{"DE416080", 0, 0}, true}, // cancelled product, still valid
		{Key{"", 1, 0}, false},
		{Key{"DE416080", -1, 0}, false},
		{Key{"DE416080", 1, -2}, false},
	}
	for _, tab := range table {
		err := tab.key.Validate()
		if tab.ok && err != nil {
			t.Errorf("Validate(%v) returned %s", tab.key, err.Error())
		}
		if !tab.ok && err == nil {
			t.Errorf("Validate(%v) returned nil, expected error", tab.key)
		}
	}
}

func TestKeyFromAttributes(t *testing.T) {
	attrs := []KeyValue{
		{Key: AttrAgency, Value: "DE"},
		{Key: AttrCellName, Value: "DE290001"},
		{Key: AttrEditionNumber, Value: "1"},
		{Key: AttrUpdateNumber, Value: "0"},
	}
	key, err := KeyFromAttributes(attrs)
	if err != nil {
		t.Fatalf("received %s", err.Error())
	}
	want := Key{ProductName: "DE290001", EditionNumber: 1, UpdateNumber: 0}
	if key != want {
		t.Errorf("got %v, expected %v", key, want)
	}
}

func TestKeyFromAttributesMissing(t *testing.T) {
	var table = []struct {
		name  string
		attrs []KeyValue
	}{
		{"no cell name", []KeyValue{
			{Key: AttrEditionNumber, Value: "1"},
			{Key: AttrUpdateNumber, Value: "0"},
		}},
		{"no edition", []KeyValue{
			{Key: AttrCellName, Value: "DE290001"},
			{Key: AttrUpdateNumber, Value: "0"},
		}},
		{"bad update", []KeyValue{
			{Key: AttrCellName, Value: "DE290001"},
			{Key: AttrEditionNumber, Value: "1"},
			{Key: AttrUpdateNumber, Value: "six"},
		}},
	}
	for _, tab := range table {
		if _, err := KeyFromAttributes(tab.attrs); err == nil {
			t.Errorf("%s: expected error", tab.name)
		}
	}
}

func TestBatchDetailAttribute(t *testing.T) {
	d := &BatchDetail{
		BatchID: "batch-1",
		Attributes: []KeyValue{
			{Key: AttrCellName, Value: "DE416080"},
		},
	}
	if got := d.Attribute(AttrCellName); got != "DE416080" {
		t.Errorf("Attribute(CellName) = %q", got)
	}
	if got := d.Attribute(AttrProductCode); got != "" {
		t.Errorf("Attribute(ProductCode) = %q, expected empty", got)
	}
}
