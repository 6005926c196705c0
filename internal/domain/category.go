package domain

import "fmt"

// Category names one of the categorized outputs of a processed file.
type Category string

const (
	CategoryClean   Category = "clean"
	CategoryInvalid Category = "invalid"
	CategoryDNC     Category = "dnc"
)

// ParseCategory validates a caller-supplied category name.
func ParseCategory(s string) (Category, error) {
	switch c := Category(s); c {
	case CategoryClean, CategoryInvalid, CategoryDNC:
		return c, nil
	}
	return "", fmt.Errorf("unknown file type %q (want clean, invalid or dnc)", s)
}

// Path returns the output path recorded for the category.
func (o OutputFiles) Path(c Category) string {
	switch c {
	case CategoryClean:
		return o.CleanFilePath
	case CategoryInvalid:
		return o.InvalidFilePath
	case CategoryDNC:
		return o.DNCFilePath
	}
	return ""
}
