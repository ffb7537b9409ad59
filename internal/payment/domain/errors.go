package domain

import "errors"

var (
	ErrInvalidPayload        = errors.New("invalid_payload")
	ErrMissingReference      = errors.New("missing_merchant_reference")
	ErrInvalidSignature      = errors.New("invalid_signature")
	ErrEventAlreadyProcessed = errors.New("event_already_processed")
	ErrOrderBusy             = errors.New("order_locked_by_concurrent_delivery")
	ErrMissingPayfacRef      = errors.New("missing_payfac_reference")
	ErrNoResult              = errors.New("processor_no_result")
)
