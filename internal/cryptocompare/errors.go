package cryptocompare

import "fmt"

// CatalogFetchError means the symbol listing could not be assembled
type CatalogFetchError struct {
	Page int
	Err  error
}

func (e *CatalogFetchError) Error() string {
	return fmt.Sprintf("fetch symbol catalog (page %d): %v", e.Page, e.Err)
}

func (e *CatalogFetchError) Unwrap() error { return e.Err }

// PriceFetchError means a pricemulti call failed or the provider reported an error
type PriceFetchError struct {
	Err error
}

func (e *PriceFetchError) Error() string {
	return fmt.Sprintf("fetch prices: %v", e.Err)
}

func (e *PriceFetchError) Unwrap() error { return e.Err }

// TopFetchError means the market-cap ranking could not be fetched
type TopFetchError struct {
	Err error
}

func (e *TopFetchError) Error() string {
	return fmt.Sprintf("fetch top coins: %v", e.Err)
}

func (e *TopFetchError) Unwrap() error { return e.Err }
