package credit

// Package is a purchasable credit bundle.
type Package struct {
	ID       string `json:"id"`
	Credits  int    `json:"credits"`
	Price    string `json:"price"`
	Currency string `json:"currency"`
	Popular  bool   `json:"popular"`
}

var packages = []Package{
	{ID: "credits-100", Credits: 100, Price: "4.99", Currency: "USD"},
	{ID: "credits-500", Credits: 500, Price: "19.99", Currency: "USD", Popular: true},
	{ID: "credits-1000", Credits: 1000, Price: "35.99", Currency: "USD"},
}

// Packages returns the catalogue in display order.
func Packages() []Package {
	out := make([]Package, len(packages))
	copy(out, packages)
	return out
}

func FindPackage(id string) (Package, error) {
	for _, p := range packages {
		if p.ID == id {
			return p, nil
		}
	}
	return Package{}, ErrPackageNotFound
}
