package source

import "github.com/statchart/backend/internal/dataset"

const (
	WorldBankID = "worldbank"
	EurostatID  = "eurostat"
	OWIDID      = "owid"
	WikidataID  = "wikidata"
)

func WorldBank() Config {
	return Config{
		ID:      WorldBankID,
		Name:    "World Bank Open Data",
		BaseURL: "https://api.worldbank.org/v2",
		Auth:    AuthNone,
		Formats: []Format{FormatJSON},
		Attribution: dataset.Attribution{
			Text:    "World Bank, World Development Indicators",
			License: "CC BY 4.0",
			URL:     "https://datacatalog.worldbank.org/public-licenses",
		},
		RateLimitNotes:    "No published hard limit; keep bursts small and paginate with per_page.",
		RequestsPerSecond: 5,
		Endpoints: []Endpoint{
			{
				Name:         "indicator-by-country",
				PathTemplate: "/country/{countries}/indicator/{indicator}",
				Params: []Param{
					{Name: "countries", Description: "ISO3 codes joined by ';'", Required: true, Example: "DEU;FRA"},
					{Name: "indicator", Description: "WDI indicator code", Required: true, Example: "NY.GDP.PCAP.CD"},
					{Name: "date", Description: "year or colon-separated range", Example: "2000:2022"},
					{Name: "format", Description: "response format", Required: true, Example: "json"},
					{Name: "per_page", Description: "page size", Example: "20000"},
				},
			},
			{Name: "countries", PathTemplate: "/country"},
			{Name: "indicators", PathTemplate: "/indicator"},
		},
	}
}

func Eurostat() Config {
	return Config{
		ID:      EurostatID,
		Name:    "Eurostat",
		BaseURL: "https://ec.europa.eu/eurostat/api/dissemination/statistics/1.0/data",
		Auth:    AuthNone,
		Formats: []Format{FormatJSONStat},
		Attribution: dataset.Attribution{
			Text:    "Eurostat",
			License: "CC BY 4.0",
			URL:     "https://ec.europa.eu/eurostat/about-us/policies/copyright",
		},
		RateLimitNotes:    "Large extractions are answered asynchronously; keep filters narrow.",
		RequestsPerSecond: 2,
		Endpoints: []Endpoint{
			{
				Name:         "dataset",
				PathTemplate: "/{dataset}",
				Params: []Param{
					{Name: "dataset", Description: "dataset code", Required: true, Example: "nama_10_pc"},
					{Name: "geo", Description: "repeated ISO2-style geo codes", Example: "DE"},
					{Name: "time", Description: "repeated period codes", Example: "2021"},
					{Name: "lang", Description: "label language", Example: "EN"},
				},
			},
		},
	}
}

func OWID() Config {
	return Config{
		ID:      OWIDID,
		Name:    "Our World in Data",
		BaseURL: "https://ourworldindata.org/grapher",
		Auth:    AuthNone,
		Formats: []Format{FormatCSV},
		Attribution: dataset.Attribution{
			Text:    "Our World in Data",
			License: "CC BY 4.0",
			URL:     "https://ourworldindata.org/faqs#how-is-our-work-copyrighted",
		},
		RateLimitNotes:    "Static CSV exports served from a CDN.",
		RequestsPerSecond: 5,
		Endpoints: []Endpoint{
			{
				Name:         "grapher-csv",
				PathTemplate: "/{slug}.csv",
				Params: []Param{
					{Name: "slug", Description: "chart slug", Required: true, Example: "life-expectancy"},
					{Name: "time", Description: "start..end", Example: "2000..2020"},
					{Name: "country", Description: "~-prefixed codes", Example: "~DEU~FRA"},
				},
			},
		},
	}
}

func Wikidata() Config {
	return Config{
		ID:      WikidataID,
		Name:    "Wikidata",
		BaseURL: "https://query.wikidata.org/sparql",
		Auth:    AuthNone,
		Formats: []Format{FormatSPARQLJSON},
		Attribution: dataset.Attribution{
			Text:    "Wikidata contributors",
			License: "CC0 1.0",
			URL:     "https://www.wikidata.org/wiki/Wikidata:Licensing",
		},
		RateLimitNotes:    "60 seconds of query time per minute per client; send a descriptive User-Agent.",
		RequestsPerSecond: 1,
		Endpoints: []Endpoint{
			{
				Name:         "sparql",
				PathTemplate: "?query={sparql}&format=json",
				Params: []Param{
					{Name: "query", Description: "URL-encoded SPARQL", Required: true},
				},
			},
		},
	}
}

// All returns the default configuration of every supported source.
func All() []Config {
	return []Config{WorldBank(), Eurostat(), OWID(), Wikidata()}
}
