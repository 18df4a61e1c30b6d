package models

// Money is an amount in a single currency. Units is the whole part, Nanos the
// fractional part in billionths (same sign as Units).
type Money struct {
	CurrencyCode string `json:"currency_code,omitempty"`
	Units        int64  `json:"units,omitempty,string"`
	Nanos        int32  `json:"nanos,omitempty"`
}

// Address is the shipping destination of an order.
type Address struct {
	StreetAddress string `json:"street_address,omitempty"`
	City          string `json:"city,omitempty"`
	State         string `json:"state,omitempty"`
	Country       string `json:"country,omitempty"`
	ZipCode       int32  `json:"zip_code,omitempty"`
}

// CartItem references a catalog product and the quantity ordered.
type CartItem struct {
	ProductID string `json:"product_id,omitempty"`
	Quantity  int32  `json:"quantity,omitempty"`
}

// OrderItem is a line of an order: the cart item and its unit cost.
type OrderItem struct {
	Item *CartItem `json:"item,omitempty"`
	Cost *Money    `json:"cost,omitempty"`
}

// Order is the placed order the confirmation mail describes. Field names
// follow the OrderResult wire message.
type Order struct {
	OrderID            string       `json:"order_id,omitempty"`
	ShippingTrackingID string       `json:"shipping_tracking_id,omitempty"`
	ShippingCost       *Money       `json:"shipping_cost,omitempty"`
	ShippingAddress    *Address     `json:"shipping_address,omitempty"`
	Items              []*OrderItem `json:"items,omitempty"`
}

// ConfirmationRequest asks for an order confirmation to be mailed to Email.
type ConfirmationRequest struct {
	Email string `json:"email,omitempty"`
	Order *Order `json:"order,omitempty"`
}
