package gateway

import (
	"github.com/shopspring/decimal"
)

func init() {
	// The gateway expects monetary values as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

type BillingType string

const (
	BillingPix        BillingType = "PIX"
	BillingBoleto     BillingType = "BOLETO"
	BillingCreditCard BillingType = "CREDIT_CARD"
	BillingUndefined  BillingType = "UNDEFINED"
)

type Cycle string

const (
	CycleMonthly    Cycle = "MONTHLY"
	CycleQuarterly  Cycle = "QUARTERLY"
	CycleSemiannual Cycle = "SEMIANNUALLY"
	CycleYearly     Cycle = "YEARLY"
)

// Remote payment statuses used by reconciliation and webhook handlers.
const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusConfirmed = "CONFIRMED"
	PaymentStatusReceived  = "RECEIVED"
	PaymentStatusOverdue   = "OVERDUE"
	PaymentStatusRefunded  = "REFUNDED"
)

type CustomerRequest struct {
	Name              string `json:"name"`
	CpfCnpj           string `json:"cpfCnpj"`
	Email             string `json:"email,omitempty"`
	Phone             string `json:"phone,omitempty"`
	MobilePhone       string `json:"mobilePhone,omitempty"`
	PostalCode        string `json:"postalCode,omitempty"`
	AddressNumber     string `json:"addressNumber,omitempty"`
	ExternalReference string `json:"externalReference,omitempty"`
}

type Customer struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	CpfCnpj           string `json:"cpfCnpj"`
	Email             string `json:"email"`
	ExternalReference string `json:"externalReference"`
}

// SplitEntry is one payout instruction attached to a payment or subscription.
type SplitEntry struct {
	WalletID        string           `json:"walletId"`
	FixedValue      *decimal.Decimal `json:"fixedValue,omitempty"`
	PercentualValue *decimal.Decimal `json:"percentualValue,omitempty"`
	Description     string           `json:"description,omitempty"`
}

type CreditCard struct {
	HolderName  string `json:"holderName"`
	Number      string `json:"number"`
	ExpiryMonth string `json:"expiryMonth"`
	ExpiryYear  string `json:"expiryYear"`
	CCV         string `json:"ccv"`
}

type CreditCardHolderInfo struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	CpfCnpj       string `json:"cpfCnpj"`
	PostalCode    string `json:"postalCode"`
	AddressNumber string `json:"addressNumber"`
	Phone         string `json:"phone"`
}

type PaymentRequest struct {
	Customer          string          `json:"customer"`
	BillingType       BillingType     `json:"billingType"`
	Value             decimal.Decimal `json:"value"`
	DueDate           string          `json:"dueDate"`
	Description       string          `json:"description,omitempty"`
	ExternalReference string          `json:"externalReference,omitempty"`
	CreditCardToken   string          `json:"creditCardToken,omitempty"`
	RemoteIP          string          `json:"remoteIp,omitempty"`
	Split             []SplitEntry    `json:"split,omitempty"`
}

type Payment struct {
	ID                string          `json:"id"`
	Customer          string          `json:"customer"`
	Subscription      string          `json:"subscription,omitempty"`
	Status            string          `json:"status"`
	BillingType       BillingType     `json:"billingType"`
	Value             decimal.Decimal `json:"value"`
	NetValue          decimal.Decimal `json:"netValue"`
	DueDate           string          `json:"dueDate"`
	ExternalReference string          `json:"externalReference,omitempty"`
	InvoiceURL        string          `json:"invoiceUrl,omitempty"`
	Split             []SplitEntry    `json:"split,omitempty"`
}

type SubscriptionRequest struct {
	Customer          string          `json:"customer"`
	BillingType       BillingType     `json:"billingType"`
	Value             decimal.Decimal `json:"value"`
	NextDueDate       string          `json:"nextDueDate"`
	Cycle             Cycle           `json:"cycle"`
	Description       string          `json:"description,omitempty"`
	ExternalReference string          `json:"externalReference,omitempty"`
	CreditCardToken   string          `json:"creditCardToken,omitempty"`
	Split             []SplitEntry    `json:"split,omitempty"`
}

type Subscription struct {
	ID                string          `json:"id"`
	Customer          string          `json:"customer"`
	Status            string          `json:"status"`
	BillingType       BillingType     `json:"billingType"`
	Value             decimal.Decimal `json:"value"`
	Cycle             Cycle           `json:"cycle"`
	NextDueDate       string          `json:"nextDueDate"`
	ExternalReference string          `json:"externalReference,omitempty"`
}

type TokenizeCardRequest struct {
	Customer             string               `json:"customer"`
	CreditCard           CreditCard           `json:"creditCard"`
	CreditCardHolderInfo CreditCardHolderInfo `json:"creditCardHolderInfo"`
	RemoteIP             string               `json:"remoteIp"`
}

type CardToken struct {
	CreditCardNumber string `json:"creditCardNumber"`
	CreditCardBrand  string `json:"creditCardBrand"`
	CreditCardToken  string `json:"creditCardToken"`
}
