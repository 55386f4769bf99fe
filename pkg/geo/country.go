package geo

import "strings"

// Country normalisation uses two disjoint tables: aliasToCanonical folds any
// user-facing spelling onto a canonical country tag, and canonicalVariants
// expands a canonical tag into the spellings stored in the corpus. A canonical
// tag is never an alias key, so a lookup passes through each table at most once.

var aliasToCanonical = map[string]string{
	// English variants
	"jp":      "japan",
	"nippon":  "japan",
	"prc":     "china",
	"korea":   "south_korea",
	"rok":     "south_korea",
	"uk":      "united_kingdom",
	"britain": "united_kingdom",
	"england": "united_kingdom",
	"usa":     "united_states",
	"us":      "united_states",
	"america": "united_states",
	"holland": "netherlands",
	"uae":     "united_arab_emirates",
	"nz":      "new_zealand",
	"aussie":  "australia",
	"helvetia": "switzerland",

	// Chinese names
	"日本":   "japan",
	"中国":   "china",
	"韩国":   "south_korea",
	"泰国":   "thailand",
	"越南":   "vietnam",
	"印尼":   "indonesia",
	"印度尼西亚": "indonesia",
	"印度":   "india",
	"尼泊尔":  "nepal",
	"法国":   "france",
	"意大利":  "italy",
	"西班牙":  "spain",
	"德国":   "germany",
	"瑞士":   "switzerland",
	"奥地利":  "austria",
	"英国":   "united_kingdom",
	"希腊":   "greece",
	"挪威":   "norway",
	"冰岛":   "iceland",
	"美国":   "united_states",
	"加拿大":  "canada",
	"秘鲁":   "peru",
	"巴西":   "brazil",
	"澳大利亚": "australia",
	"澳洲":   "australia",
	"新西兰":  "new_zealand",
	"埃及":   "egypt",
	"摩洛哥":  "morocco",
	"南非":   "south_africa",
	"土耳其":  "turkey",
}

var canonicalVariants = map[string][]string{
	"japan":          {"Japan", "日本"},
	"china":          {"China", "中国"},
	"south_korea":    {"South Korea", "Korea", "韩国"},
	"thailand":       {"Thailand", "泰国"},
	"vietnam":        {"Vietnam", "Viet Nam", "越南"},
	"indonesia":      {"Indonesia", "印度尼西亚"},
	"india":          {"India", "印度"},
	"nepal":          {"Nepal", "尼泊尔"},
	"france":         {"France", "法国"},
	"italy":          {"Italy", "Italia", "意大利"},
	"spain":          {"Spain", "España", "西班牙"},
	"germany":        {"Germany", "Deutschland", "德国"},
	"switzerland":    {"Switzerland", "Schweiz", "瑞士"},
	"austria":        {"Austria", "Österreich", "奥地利"},
	"united_kingdom": {"United Kingdom", "Great Britain", "England", "Scotland", "Wales", "英国"},
	"greece":         {"Greece", "希腊"},
	"norway":         {"Norway", "Norge", "挪威"},
	"iceland":        {"Iceland", "冰岛"},
	"united_states":  {"United States", "United States of America", "USA", "美国"},
	"canada":         {"Canada", "加拿大"},
	"peru":           {"Peru", "秘鲁"},
	"brazil":         {"Brazil", "Brasil", "巴西"},
	"australia":      {"Australia", "澳大利亚"},
	"new_zealand":    {"New Zealand", "新西兰"},
	"egypt":          {"Egypt", "埃及"},
	"morocco":        {"Morocco", "摩洛哥"},
	"south_africa":   {"South Africa", "南非"},
	"turkey":         {"Turkey", "Türkiye", "土耳其"},
	"netherlands":    {"Netherlands", "Nederland", "荷兰"},
	"united_arab_emirates": {"United Arab Emirates", "UAE", "阿联酋"},
}

// CanonicalCountry folds any supported spelling of a country name onto its
// canonical tag. Returns "" when the name is not recognised.
func CanonicalCountry(name string) string {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return ""
	}
	key = strings.ReplaceAll(key, " ", "_")

	if canon, ok := aliasToCanonical[key]; ok {
		return canon
	}
	if _, ok := canonicalVariants[key]; ok {
		return key
	}
	return ""
}

// CountryVariants returns the spellings under which a canonical country tag
// may appear in the corpus. Returns nil for unknown tags.
func CountryVariants(canonical string) []string {
	return canonicalVariants[canonical]
}
