package model

// SearchType buckets a query into a coarse category used by the perceiver.
type SearchType string

const (
	SearchTypeRestaurant SearchType = "restaurant"
	SearchTypeGasStation SearchType = "gas_station"
	SearchTypeHotel      SearchType = "hotel"
	SearchTypeShopping   SearchType = "shopping"
	SearchTypeGeneral    SearchType = "general"
)

// QueryInfo is an immutable observation of the current search query,
// created fresh per task by the perceiver.
type QueryInfo struct {
	Query        string     `json:"query"`
	Location     string     `json:"location,omitempty"`
	SearchType   SearchType `json:"search_type,omitempty"`
	UserLocation string     `json:"user_location,omitempty"`
}

// MapResult is one candidate search result. A task yields an ordered slice;
// index 0 is the top-ranked result.
type MapResult struct {
	Name         string   `json:"name"`
	Address      string   `json:"address,omitempty"`
	Rating       *float64 `json:"rating,omitempty"`
	ReviewsCount *int     `json:"reviews_count,omitempty"`
	Distance     string   `json:"distance,omitempty"`
	Category     string   `json:"category,omitempty"`
	Phone        string   `json:"phone,omitempty"`
	Website      string   `json:"website,omitempty"`
	Hours        string   `json:"hours,omitempty"`
	Position     int      `json:"position"`
}
