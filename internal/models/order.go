package models

// Order types known to the classifier and the datasheet presets.
const (
	OrderTypeGuitar     = "GUITAR"
	OrderTypeBody       = "BODY"
	OrderTypeNeck       = "NECK"
	OrderTypeRepair     = "REPAIR"
	OrderTypePickguard  = "PICKGUARD"
	OrderTypePickups    = "PICKUPS"
	OrderTypeEngraving  = "ENGRAVING"
	OrderTypeFinishOnly = "FINISH_ONLY"
)

// OrderStatusComplete marks an order as closed.
const OrderStatusComplete = "complete"

type Customer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type Order struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	OrderType  string `json:"order_type"`
	Status     string `json:"status"`
	Title      string `json:"title"`
}

// IsOpen reports whether the order still accepts correspondence.
func (o *Order) IsOpen() bool {
	return o.Status != OrderStatusComplete
}

type OrderImage struct {
	ID           string `json:"id"`
	OrderID      string `json:"order_id"`
	AttachmentID string `json:"attachment_id"`
	Path         string `json:"path"`
	Filename     string `json:"filename"`
}
