package orders

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// SeedData is the JSON layout SEED_FILE is read from.
type SeedData struct {
	Buyers []struct {
		ID      uuid.UUID `json:"id"`
		Email   string    `json:"email"`
		Address string    `json:"address"`
	} `json:"buyers"`
	Products []struct {
		ID           uuid.UUID `json:"id"`
		SellerID     uuid.UUID `json:"seller_id"`
		Name         string    `json:"name"`
		PriceCents   int64     `json:"price_cents"`
		CountInStock int       `json:"count_in_stock"`
	} `json:"products"`
	Carts []struct {
		BuyerID   uuid.UUID `json:"buyer_id"`
		ProductID uuid.UUID `json:"product_id"`
		Count     int       `json:"count"`
	} `json:"carts"`
}

// SeedFile loads a seed file into s. See Seed.
func (s *MemStore) SeedFile(path string) (SeedData, error) {
	f, err := os.Open(path)
	if err != nil {
		return SeedData{}, errors.Wrap(err, "open seed file")
	}
	defer f.Close()
	return s.Seed(f)
}

// Seed fills s with buyers, products and cart rows. The rows are
// checked the way the database constraints would check them, and
// nothing is written unless all of them pass.
func (s *MemStore) Seed(r io.Reader) (SeedData, error) {
	var d SeedData
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&d); err != nil {
		return SeedData{}, errors.Wrap(err, "decode seed")
	}

	buyers := map[uuid.UUID]bool{}
	for _, b := range d.Buyers {
		if b.ID == uuid.Nil || b.Email == "" {
			return SeedData{}, fmt.Errorf("seed buyer %s: id and email are required", b.ID)
		}
		buyers[b.ID] = true
	}
	products := map[uuid.UUID]bool{}
	for _, p := range d.Products {
		if p.ID == uuid.Nil || p.Name == "" {
			return SeedData{}, fmt.Errorf("seed product %s: id and name are required", p.ID)
		}
		if p.PriceCents <= 0 || p.CountInStock < 0 {
			return SeedData{}, errors.Wrapf(ErrCheckViolation, "seed product %s", p.ID)
		}
		products[p.ID] = true
	}
	for _, c := range d.Carts {
		if !buyers[c.BuyerID] {
			return SeedData{}, fmt.Errorf("seed cart: unknown buyer %s", c.BuyerID)
		}
		if !products[c.ProductID] {
			return SeedData{}, &ProductNotFoundError{ProductID: c.ProductID}
		}
		if c.Count <= 0 {
			return SeedData{}, errors.Wrapf(ErrCheckViolation, "seed cart %s/%s", c.BuyerID, c.ProductID)
		}
	}

	for _, b := range d.Buyers {
		s.PutBuyer(Buyer{ID: b.ID, Email: b.Email, Address: b.Address})
	}
	for _, p := range d.Products {
		s.PutProduct(Product{ID: p.ID, SellerID: p.SellerID, Name: p.Name, PriceCents: p.PriceCents, CountInStock: p.CountInStock})
	}
	for _, c := range d.Carts {
		s.AddToCart(c.BuyerID, c.ProductID, c.Count)
	}
	return d, nil
}
