package flow

import (
	"time"

	"funnel-bot/internal/domain"
	"funnel-bot/internal/notify"
	"funnel-bot/internal/repo"
)

// Input is everything a decision depends on.
type Input struct {
	State       repo.FlowStateRecord
	Text        string
	DisplayName string
	OpenOrder   *repo.Order
	LatestOrder *repo.Order
	Now         time.Time
}

// Decision describes the reply and the side effects the engine must apply.
type Decision struct {
	Handled bool
	Reply   string

	// Next is the record to persist; nil leaves the stored record untouched.
	Next *repo.FlowStateRecord
	// Clear removes the flow record, returning the subscriber to IDLE.
	Clear bool

	NewOrder *repo.Order
	// Proof is attached to the open order, which moves to proof_submitted.
	Proof string

	NoticeKind string
	Notice     string

	// Unknown is set when the stored state is not a funnel state.
	Unknown bool
}

// To reports the state the subscriber is in after the decision.
func (d Decision) To(from domain.FlowState) domain.FlowState {
	switch {
	case d.Clear:
		return domain.FlowIdle
	case d.Next != nil:
		return d.Next.State
	default:
		return from
	}
}

// Machine maps an input to a decision without touching storage.
type Machine struct {
	match   Matchers
	catalog Catalog
}

// NewMachine returns a machine using the given recognisers and catalog.
func NewMachine(match Matchers, catalog Catalog) *Machine {
	return &Machine{match: match, catalog: catalog}
}

// Decide is deterministic: equal inputs yield equal decisions.
func (m *Machine) Decide(in Input) Decision {
	switch in.State.State {
	case domain.FlowCountry:
		return m.country(in)
	case domain.FlowMethod:
		return m.method(in)
	case domain.FlowData:
		return m.data(in)
	case domain.FlowProof:
		return m.proof(in)
	case domain.FlowPostSale:
		return m.postSale(in)
	case domain.FlowIdle, "":
		return Decision{}
	default:
		return Decision{Unknown: true}
	}
}

func (m *Machine) country(in Input) Decision {
	country, ok := m.match.Country(in.Text)
	if !ok {
		return Decision{Handled: true, Reply: countryRetry}
	}
	next := advance(in, domain.FlowMethod)
	next.Country = country
	if p, ok := m.match.Product(in.Text); ok {
		next.Product = p
	}
	return Decision{Handled: true, Reply: m.catalog.methodMenu(country, next.Product), Next: next}
}

func (m *Machine) method(in Input) Decision {
	product := in.State.Product
	mentioned, hasMention := m.match.Product(in.Text)
	if hasMention {
		product = mentioned
	}
	method, ok := m.match.Method(in.Text)

	if product == domain.ProductNone {
		return Decision{Handled: true, Reply: m.catalog.productRetry()}
	}
	if !ok {
		d := Decision{Handled: true, Reply: methodRetry}
		if hasMention && product != in.State.Product {
			next := advance(in, domain.FlowMethod)
			next.Product = product
			d.Next = next
			d.Reply = m.catalog.methodMenu(in.State.Country, product)
		}
		return d
	}
	next := advance(in, domain.FlowData)
	next.Product = product
	next.Method = string(method)
	return Decision{Handled: true, Reply: dataPrompt, Next: next}
}

func (m *Machine) data(in Input) Decision {
	contact, ok := m.match.Contact(in.Text)
	if !ok {
		return Decision{Handled: true, Reply: dataRetry}
	}
	next := advance(in, domain.FlowProof)
	d := Decision{Handled: true, Next: next}

	if in.OpenOrder != nil {
		d.Reply = m.catalog.paymentInstructions(Method(in.OpenOrder.PaymentMethod), in.OpenOrder.Product)
		return d
	}
	d.NewOrder = m.order(in, contact)
	d.Reply = m.catalog.paymentInstructions(Method(d.NewOrder.PaymentMethod), d.NewOrder.Product)
	d.NoticeKind = notify.KindOrder
	d.Notice = newOrderNotice(in.State.SubscriberID, contact, in.State.Country, Method(d.NewOrder.PaymentMethod), d.NewOrder.Product, d.NewOrder.Amount)
	return d
}

func (m *Machine) proof(in Input) Decision {
	ref, isProof := m.match.Proof(in.Text)
	if !isProof {
		// Without any order, a contact message here registers the order.
		if in.OpenOrder == nil {
			if contact, ok := m.match.Contact(in.Text); ok {
				o := m.order(in, contact)
				return Decision{
					Handled:    true,
					Reply:      m.catalog.paymentInstructions(Method(o.PaymentMethod), o.Product),
					NewOrder:   o,
					NoticeKind: notify.KindOrder,
					Notice:     newOrderNotice(in.State.SubscriberID, contact, in.State.Country, Method(o.PaymentMethod), o.Product, o.Amount),
				}
			}
		}
		return Decision{Handled: true, Reply: proofRetry}
	}
	if in.OpenOrder == nil {
		return Decision{Handled: true, Reply: proofNoOrder}
	}
	next := advance(in, domain.FlowPostSale)
	received := in.Now
	next.ProofReceivedAt = &received
	return Decision{
		Handled:    true,
		Reply:      proofReceived,
		Next:       next,
		Proof:      ref,
		NoticeKind: notify.KindProof,
		Notice:     proofNotice(in.State.SubscriberID, in.OpenOrder.ID, ref),
	}
}

func (m *Machine) postSale(in Input) Decision {
	if in.LatestOrder != nil && in.LatestOrder.Status.Completed() {
		return Decision{Handled: true, Clear: true, Reply: m.catalog.delivered(in.LatestOrder.Product)}
	}
	if m.match.TopicSwitch(in.Text) {
		return Decision{Clear: true}
	}
	if m.match.Ack(in.Text) {
		return Decision{Handled: true, Reply: stillVerifying}
	}
	return Decision{Handled: true, Reply: stillVerifying}
}

func (m *Machine) order(in Input, c Contact) *repo.Order {
	name := c.Name
	if name == "" {
		name = in.DisplayName
	}
	product := in.State.Product
	if product == domain.ProductNone {
		product = domain.ProductPDF
	}
	method := in.State.Method
	if method == "" {
		method = string(MethodPayPal)
	}
	return &repo.Order{
		SubscriberID:  in.State.SubscriberID,
		BuyerName:     name,
		Email:         c.Email,
		Phone:         c.Phone,
		Country:       in.State.Country,
		PaymentMethod: method,
		Amount:        m.catalog.Price(product),
		Product:       product,
		Status:        domain.OrderPending,
	}
}

func advance(in Input, to domain.FlowState) *repo.FlowStateRecord {
	next := in.State
	next.State = to
	next.UpdatedAt = in.Now
	return &next
}
