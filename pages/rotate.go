package pages

import (
	"fmt"

	"pdfops/object"
)

// Rotate adds degrees (90, 180 or 270) to the rotation of every selected
// page, modulo 360. The new value is always written to the leaf page
// dictionary, never a shared ancestor, so sibling pages inheriting the old
// value are unaffected.
func Rotate(store *object.Store, set RangeSet, degrees int) error {
	switch degrees {
	case 90, 180, 270:
	default:
		return fmt.Errorf("rotation must be 90, 180 or 270 degrees, got %d", degrees)
	}
	resolved, err := Resolve(store)
	if err != nil {
		return err
	}
	for _, page := range resolved {
		if !set.Contains(page.Index + 1) {
			continue
		}
		dict := page.Dict(store)
		if dict == nil {
			continue
		}
		// page.Rotate already folds inheritance and normalizes stray values
		dict["Rotate"] = object.Integer((page.Rotate + degrees) % 360)
		store.Put(page.ID, dict)
	}
	return nil
}
