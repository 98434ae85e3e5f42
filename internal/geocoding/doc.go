// Package geocoding loads the GeoNames cities500 data set into the database
// and resolves coordinates to country, state and city names.
package geocoding
