package dialect

import "strings"

// Storage kinds as reported by the data provider.
const (
	StoragePostGIS      = "PostgreSQL database with PostGIS extension"
	StorageGeoPackage   = "GPKG"
	StorageSQLite       = "SQLite"
	StorageSensorThings = "OGC SensorThings API"
)

var storageKinds = map[string]Kind{
	strings.ToUpper(StoragePostGIS):      GenericSQL,
	strings.ToUpper(StorageGeoPackage):   GenericSQL,
	strings.ToUpper(StorageSQLite):       GenericSQL,
	strings.ToUpper(StorageSensorThings): SensorThings,
}

// ForStorage selects the dialect for a storage kind, case-insensitively.
func ForStorage(storage string) (Dialect, bool) {
	k, ok := storageKinds[strings.ToUpper(strings.TrimSpace(storage))]
	if !ok {
		return Dialect{}, false
	}
	return MustGet(k), true
}

// IsSQLiteBased reports storages whose spatial filtering cannot handle curved geometry types.
func IsSQLiteBased(storage string) bool {
	s := strings.ToUpper(strings.TrimSpace(storage))
	return s == strings.ToUpper(StorageGeoPackage) || s == strings.ToUpper(StorageSQLite)
}
