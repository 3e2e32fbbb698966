package dto

type QuoteRequest struct {
	UserID           string `json:"user_id" validate:"required"`
	ParticipantCount int    `json:"participant_count" validate:"required,gt=0"`
	EquipmentRental  bool   `json:"equipment_rental"`
}

type ReserveRequest struct {
	UserID           string `json:"user_id" validate:"required"`
	ParticipantCount int    `json:"participant_count" validate:"required,gt=0"`
	EquipmentRental  bool   `json:"equipment_rental"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

type WaitlistJoinRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

type WaitlistLeaveRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

type ClaimOfferRequest struct {
	OfferToken      string `json:"offer_token" validate:"required"`
	EquipmentRental bool   `json:"equipment_rental"`
}
