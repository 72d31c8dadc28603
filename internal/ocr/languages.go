package ocr

import (
	"sort"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"scanreader/internal/models"
)

var rtlScripts = map[string]bool{
	"Arab": true,
	"Hebr": true,
	"Syrc": true,
	"Thaa": true,
	"Nkoo": true,
}

// LanguageFromCode builds a Language from a Tesseract code such as "eng",
// "ara" or "chi_sim". Unknown codes keep the raw code as their name.
func LanguageFromCode(code string) models.Language {
	lang := models.Language{Code: code, Name: code}

	base, _, _ := strings.Cut(code, "_")
	tag, err := language.Parse(base)
	if err != nil {
		return lang
	}
	if name := display.English.Languages().Name(tag); name != "" {
		lang.Name = name
	}
	if script, conf := tag.Script(); conf != language.No {
		lang.RTL = rtlScripts[script.String()]
	}
	return lang
}

// SortLanguages orders by display name, then code.
func SortLanguages(langs []models.Language) {
	sort.SliceStable(langs, func(i, j int) bool {
		if langs[i].Name != langs[j].Name {
			return langs[i].Name < langs[j].Name
		}
		return langs[i].Code < langs[j].Code
	})
}

func languagesFromCodes(codes []string) []models.Language {
	langs := make([]models.Language, 0, len(codes))
	for _, code := range codes {
		code = strings.TrimSpace(code)
		if code == "" || code == "osd" {
			continue
		}
		langs = append(langs, LanguageFromCode(code))
	}
	SortLanguages(langs)
	return langs
}
