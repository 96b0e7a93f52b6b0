package entity

// PriceQuery is what the agent asks the marketplaces for.
type PriceQuery struct {
	Query      string `json:"query" jsonschema:"required" jsonschema_description:"Nome ou descrição do produto a pesquisar"`
	MaxResults int    `json:"max_results,omitempty" jsonschema:"minimum=1,maximum=10,default=3" jsonschema_description:"Quantidade máxima de ofertas por site"`
}

type PriceOffer struct {
	Title string `json:"title"`
	Price string `json:"price"`
	Link  string `json:"link"`
}

const (
	PriceStatusOK    = "ok"
	PriceStatusError = "error"
)

// SitePrices is one marketplace's answer. Error is safe to show the model.
type SitePrices struct {
	Site    string       `json:"site"`
	Status  string       `json:"status"`
	Error   string       `json:"error,omitempty"`
	Message string       `json:"message,omitempty"`
	Results []PriceOffer `json:"results,omitempty"`
}

type PriceReport struct {
	Query     string       `json:"query"`
	Providers []SitePrices `json:"providers"`
}
