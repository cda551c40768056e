package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a catalog product and its stock count
type Product struct {
	ID        int64           `db:"id" json:"id"`
	Name      string          `db:"name" json:"name"`
	Price     decimal.Decimal `db:"price" json:"price"`
	ImageURL  string          `db:"image_url" json:"imageUrl"`
	Stock     int             `db:"stock" json:"stock"`
	CreatedAt time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time       `db:"updated_at" json:"updatedAt"`
}

// Customer represents a shopper and their loyalty balance
type Customer struct {
	ID        int64     `db:"id" json:"id"`
	FullName  string    `db:"full_name" json:"fullName"`
	Email     string    `db:"email" json:"email"`
	Role      string    `db:"role" json:"role"`
	Points    int       `db:"points" json:"groceryPoints"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

// Customer roles
const (
	RoleNormal = "normal"
	RoleAdmin  = "admin"
)

// IsAdmin reports whether the customer may drive administrative operations
func (c *Customer) IsAdmin() bool {
	return c.Role == RoleAdmin
}

// PaymentMethod is how the customer settles an order
type PaymentMethod string

const (
	PaymentCashOnDelivery PaymentMethod = "CashOnDelivery"
	PaymentOnlineGateway  PaymentMethod = "OnlineGateway"
)

// Valid reports whether m is a known payment method
func (m PaymentMethod) Valid() bool {
	return m == PaymentCashOnDelivery || m == PaymentOnlineGateway
}

// Gateway identifies the third-party payment provider of an online order
type Gateway string

const (
	GatewayKhalti Gateway = "khalti"
	GatewayEsewa  Gateway = "esewa"
)

// Valid reports whether g is a supported gateway
func (g Gateway) Valid() bool {
	return g == GatewayKhalti || g == GatewayEsewa
}

// Order represents a customer order
type Order struct {
	ID              int64           `db:"id" json:"id"`
	CustomerID      int64           `db:"customer_id" json:"customerId"`
	Items           []OrderItem     `db:"-" json:"items"`
	Amount          decimal.Decimal `db:"amount" json:"amount"`
	Address         string          `db:"address" json:"address"`
	Phone           string          `db:"phone" json:"phone"`
	Status          OrderStatus     `db:"status" json:"status"`
	PaymentMethod   PaymentMethod   `db:"payment_method" json:"paymentMethod"`
	Gateway         *Gateway        `db:"gateway" json:"gateway,omitempty"`
	TransactionID   *string         `db:"transaction_id" json:"transactionId,omitempty"`
	DiscountApplied bool            `db:"discount_applied" json:"discountApplied"`
	PointsAwarded   int             `db:"points_awarded" json:"pointsAwarded"`
	CreatedAt       time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updatedAt"`
}

// OrderItem is one line of an order with its price frozen at order time
type OrderItem struct {
	OrderID   int64           `db:"order_id" json:"-"`
	Position  int             `db:"position" json:"-"`
	ProductID int64           `db:"product_id" json:"productId"`
	Quantity  int             `db:"quantity" json:"quantity"`
	Price     decimal.Decimal `db:"price" json:"price"`
	Name      string          `db:"name" json:"name"`
	ImageURL  string          `db:"image_url" json:"imageUrl"`
}

// LineTotal returns price × quantity for the line
func (i OrderItem) LineTotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// ItemsSubtotal sums the frozen line totals, excluding delivery fee and discount
func (o *Order) ItemsSubtotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.LineTotal())
	}
	return total
}

// IsOnline reports whether the order is settled through a payment gateway
func (o *Order) IsOnline() bool {
	return o.PaymentMethod == PaymentOnlineGateway
}
