package stub

import "sokochat/internal/domain/chat"

// Fixtures names the seeded development accounts and catalog entries.
type Fixtures struct {
	Buyer       chat.UserID
	SellerOwner chat.UserID
	Seller      chat.SellerID
	Product     chat.ProductID
}

// Seed loads a small marketplace into the store: a buyer account, a seller
// account with its profile, and one product.
func Seed(store *Store) (Fixtures, error) {
	buyer, err := store.AddUser("asha", "habari123")
	if err != nil {
		return Fixtures{}, err
	}
	owner, err := store.AddUser("juma", "karibu456")
	if err != nil {
		return Fixtures{}, err
	}
	const sellerID = chat.SellerID(7)
	const productID = chat.ProductID(42)
	store.AddSeller(chat.Seller{
		ID:           sellerID,
		User:         owner,
		BusinessName: "Juma Electronics",
		IsVerified:   true,
		Rating:       "4.8",
	})
	store.AddProduct(chat.Product{
		ID:       productID,
		Seller:   sellerID,
		Name:     "Canon EOS 250D",
		Price:    "180000.00",
		Currency: "TZS",
	})
	return Fixtures{Buyer: buyer, SellerOwner: owner, Seller: sellerID, Product: productID}, nil
}
