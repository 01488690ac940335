package domain

// RefundRequest is the payload carried by a queue item: everything the
// voice agent needs to call a technical inspection center about a refund.
// The queue passes it through untouched; only Reference is surfaced in
// queue snapshots.
type RefundRequest struct {
	Reference     string `json:"reference"`
	CustomerName  string `json:"customer_name"`
	BookingDate   string `json:"booking_date"`
	VehicleBrand  string `json:"vehicle_brand"`
	VehicleModel  string `json:"vehicle_model"`
	Registration  string `json:"registration"`
	CenterPhone   string `json:"center_phone"`
	BackofficeURL string `json:"backoffice_url,omitempty"`
}
