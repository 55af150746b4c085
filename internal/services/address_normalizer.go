package services

import (
	"strings"

	"golang.org/x/text/cases"
)

var stateFolder = cases.Fold()

// indianStates maps case-folded state and union territory names, including common historical
// spellings, to their two letter codes.
var indianStates = func() map[string]string {
	names := map[string][]string{
		"AP": {"Andhra Pradesh"},
		"AR": {"Arunachal Pradesh"},
		"AS": {"Assam"},
		"BR": {"Bihar"},
		"CT": {"Chhattisgarh"},
		"GA": {"Goa"},
		"GJ": {"Gujarat"},
		"HR": {"Haryana"},
		"HP": {"Himachal Pradesh"},
		"JK": {"Jammu and Kashmir", "Jammu & Kashmir"},
		"JH": {"Jharkhand"},
		"KA": {"Karnataka"},
		"KL": {"Kerala"},
		"MP": {"Madhya Pradesh"},
		"MH": {"Maharashtra"},
		"MN": {"Manipur"},
		"ML": {"Meghalaya"},
		"MZ": {"Mizoram"},
		"NL": {"Nagaland"},
		"OR": {"Odisha", "Orissa"},
		"PB": {"Punjab"},
		"RJ": {"Rajasthan"},
		"SK": {"Sikkim"},
		"TN": {"Tamil Nadu"},
		"TS": {"Telangana"},
		"TR": {"Tripura"},
		"UP": {"Uttar Pradesh"},
		"UT": {"Uttarakhand"},
		"WB": {"West Bengal"},
		"AN": {"Andaman and Nicobar Islands", "Andaman & Nicobar Islands"},
		"CH": {"Chandigarh"},
		"DN": {"Dadra and Nagar Haveli", "Dadra & Nagar Haveli"},
		"DD": {"Daman and Diu", "Daman & Diu"},
		"LD": {"Lakshadweep"},
		"DL": {"Delhi"},
		"PY": {"Puducherry", "Pondicherry"},
		"LA": {"Ladakh"},
	}
	out := make(map[string]string, 48)
	for code, aliases := range names {
		for _, name := range aliases {
			out[stateFolder.String(name)] = code
		}
	}
	return out
}()

// StateCode resolves a full Indian state name to its code. Unknown names are returned unchanged.
func StateCode(state string) string {
	if code, ok := indianStates[stateFolder.String(strings.TrimSpace(state))]; ok {
		return code
	}
	return state
}

// NormalizeState leaves two character values untouched and resolves everything else through StateCode.
func NormalizeState(state string) string {
	if len(state) == 2 {
		return state
	}
	return StateCode(state)
}

// FormatPhone strips every non-digit and prefixes Indian numbers with +91. Twelve digit numbers
// already carrying the 91 country code get a leading "+"; other lengths are returned as bare digits.
func FormatPhone(raw string) string {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	phone := digits.String()
	switch {
	case len(phone) == 12 && strings.HasPrefix(phone, "91"):
		return "+" + phone
	case len(phone) == 10:
		return "+91" + phone
	default:
		return phone
	}
}
