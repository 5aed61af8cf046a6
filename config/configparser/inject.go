package configparser

// ParseOptionString parses a single ARG or ARG=VAL token using the
// same scanner parseLine uses for a device's trailing options. It
// lets main's "-C SLOT:ARG" flag inject one extra option into a
// slot's device-init call without going through a config file line.
func ParseOptionString(s string) (Option, error) {
	line := &optionLine{line: s}
	opt, err := line.parseOption()
	if err != nil {
		return Option{}, err
	}
	if opt == nil {
		return Option{}, nil
	}
	return *opt, nil
}
