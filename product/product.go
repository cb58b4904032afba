// Package product holds the domain types shared by the cache, dispatch, and
// upstream layers: the product key identifying one cacheable unit of chart
// fulfilment work, and the file-batch description resolved for it.
package product

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

// A Key uniquely identifies one cacheable unit of work: a chart cell at a
// specific edition and update. EditionNumber == 0 means the product was
// cancelled; a cancelled product is cached and served like any other entry.
type Key struct {
	ProductName   string
	EditionNumber int
	UpdateNumber  int
}

// RowKey returns the row key used for this product in the structured cache
// table: "{EditionNumber}|{UpdateNumber}". The partition key is ProductName.
func (k Key) RowKey() string {
	return fmt.Sprintf("%d|%d", k.EditionNumber, k.UpdateNumber)
}

// BlobKey returns the deterministic overflow object name for this product.
// Anything needing the overflow blob for a key derives the same name.
func (k Key) BlobKey() string {
	return fmt.Sprintf("%s-%d-%d", k.ProductName, k.EditionNumber, k.UpdateNumber)
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%d/%d", k.ProductName, k.EditionNumber, k.UpdateNumber)
}

// Validate checks that the key is well formed. Edition 0 is legal (product
// cancelled), negative numbers and an empty name are not.
func (k Key) Validate() error {
	if k.ProductName == "" {
		return errors.New("product name is empty")
	}
	if k.EditionNumber < 0 {
		return errors.New("edition number is negative")
	}
	if k.UpdateNumber < 0 {
		return errors.New("update number is negative")
	}
	return nil
}

// A KeyValue is one business attribute attached to a published batch, e.g.
// agency, cell name, edition number.
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Attribute names used by the file-batch service.
const (
	AttrCellName      = "CellName"
	AttrEditionNumber = "EditionNumber"
	AttrUpdateNumber  = "UpdateNumber"
	AttrProductCode   = "ProductCode"
	AttrAgency        = "Agency"
)

// A BatchFile is one file inside a published batch.
type BatchFile struct {
	Filename string `json:"filename"`
	FileSize int64  `json:"fileSize"`
	// Link is the retrieval URL for the file contents.
	Link string `json:"link"`
}

// A BatchDetail is the file-batch service's description of one published
// batch. The product key attributes inside Attributes match the cache key
// the detail is stored under; that is the join between the cache key space
// and the upstream domain objects.
type BatchDetail struct {
	BatchID    string      `json:"batchId"`
	Status     string      `json:"status,omitempty"`
	Files      []BatchFile `json:"files"`
	Attributes []KeyValue  `json:"attributes"`
}

// Attribute returns the value of the named attribute, or "" if absent.
func (d *BatchDetail) Attribute(name string) string {
	for _, kv := range d.Attributes {
		if kv.Key == name {
			return kv.Value
		}
	}
	return ""
}

// KeyFromAttributes builds a product Key from a batch attribute list. The
// CellName, EditionNumber and UpdateNumber attributes are required; a
// missing or malformed attribute is an error naming the attribute, so the
// boundary can report it to the caller.
func KeyFromAttributes(attrs []KeyValue) (Key, error) {
	var key Key
	var haveName, haveEdition, haveUpdate bool
	for _, kv := range attrs {
		switch kv.Key {
		case AttrCellName:
			key.ProductName = kv.Value
			haveName = kv.Value != ""
		case AttrEditionNumber:
			n, err := strconv.Atoi(kv.Value)
			if err != nil {
				return Key{}, errors.Wrapf(err, "attribute %s", AttrEditionNumber)
			}
			key.EditionNumber = n
			haveEdition = true
		case AttrUpdateNumber:
			n, err := strconv.Atoi(kv.Value)
			if err != nil {
				return Key{}, errors.Wrapf(err, "attribute %s", AttrUpdateNumber)
			}
			key.UpdateNumber = n
			haveUpdate = true
		}
	}
	switch {
	case !haveName:
		return Key{}, errors.New("attribute CellName is missing")
	case !haveEdition:
		return Key{}, errors.New("attribute EditionNumber is missing")
	case !haveUpdate:
		return Key{}, errors.New("attribute UpdateNumber is missing")
	}
	if err := key.Validate(); err != nil {
		return Key{}, err
	}
	return key, nil
}
