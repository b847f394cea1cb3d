package update

import "reflect"

// structEqual compares two values of the same pointer type field-by-field,
// including unexported fields, the way the teacher's domain/fileinfo.go
// compares os.FileInfo snapshots to detect a changed mount entry.
func structEqual(a, b interface{}) bool {
	return reflect.DeepEqual(a, b)
}
