// Package all imports every sport fetcher for side-effect registration.
//
//	import _ "github.com/JanSparnaaij/ScoritoOdds/internal/parser/parsers/all"
package all

import (
	_ "github.com/JanSparnaaij/ScoritoOdds/internal/parser/parsers/football"
	_ "github.com/JanSparnaaij/ScoritoOdds/internal/parser/parsers/tennis"
)
