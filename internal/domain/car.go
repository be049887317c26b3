package domain

import "time"

type CarCategory string

const (
	CarCategorySedan     CarCategory = "sedan"
	CarCategorySUV       CarCategory = "suv"
	CarCategoryHatchback CarCategory = "hatchback"
	CarCategoryLuxury    CarCategory = "luxury"
	CarCategoryVan       CarCategory = "van"
)

func (c CarCategory) IsValid() bool {
	switch c {
	case CarCategorySedan, CarCategorySUV, CarCategoryHatchback, CarCategoryLuxury, CarCategoryVan:
		return true
	}
	return false
}

// Car is the bookable resource. Listing management lives elsewhere; the
// booking service only reads cars.
type Car struct {
	ID          string      `json:"id"`
	OwnerID     string      `json:"owner_id"`
	Title       string      `json:"title"`
	Category    CarCategory `json:"category"`
	PricePerDay float64     `json:"price_per_day"`
	City        string      `json:"city"`
	Address     string      `json:"address"`
	Available   bool        `json:"available"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// CheckBookable returns a *ValidationError when the car takes no new bookings
func (c *Car) CheckBookable() error {
	if !c.Available {
		return &ValidationError{Field: "car_id", Err: ErrCarUnavailable}
	}
	return nil
}
