package memory

import (
	"context"
	"sync"

	domcatalog "github.com/farmstand/storefront/internal/domain/catalog"
	domcustomer "github.com/farmstand/storefront/internal/domain/customer"
	dominv "github.com/farmstand/storefront/internal/domain/inventory"
	domlivestock "github.com/farmstand/storefront/internal/domain/livestock"
	domorder "github.com/farmstand/storefront/internal/domain/order"
	domoutbox "github.com/farmstand/storefront/internal/domain/outbox"
	dompayment "github.com/farmstand/storefront/internal/domain/payment"
)

// Store is a process-local database. A single mutex serialises writers; WithinTx holds it
// for the whole unit of work and restores a snapshot when fn fails.
type Store struct {
	mu sync.Mutex
	st *state
}

type state struct {
	products     map[string]*domcatalog.Product
	slugs        map[string]string
	reservations map[string][]domcatalog.Reservation

	orders   map[string]*domorder.Order
	numbers  map[string]string
	sessions map[string]string
	orderSeq int64

	customers map[string]*domcustomer.Customer

	ledger []dominv.Entry

	animals   map[string]*domlivestock.Animal
	externals map[string]string

	settings map[string]string
	events   map[string]dompayment.EventType

	outbox []domoutbox.Message
}

func NewStore() *Store {
	return &Store{st: &state{
		products:     make(map[string]*domcatalog.Product),
		slugs:        make(map[string]string),
		reservations: make(map[string][]domcatalog.Reservation),
		orders:       make(map[string]*domorder.Order),
		numbers:      make(map[string]string),
		sessions:     make(map[string]string),
		customers:    make(map[string]*domcustomer.Customer),
		animals:      make(map[string]*domlivestock.Animal),
		externals:    make(map[string]string),
		settings:     make(map[string]string),
		events:       make(map[string]dompayment.EventType),
	}}
}

type txKey struct{}

func inTx(ctx context.Context) bool {
	v, _ := ctx.Value(txKey{}).(bool)
	return v
}

// WithinTx implements application.Transactor.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.st.clone()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.st = snapshot
		return err
	}
	return nil
}

// run executes fn with the store locked unless the caller already holds it via WithinTx.
func (s *Store) run(ctx context.Context, fn func(st *state) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if inTx(ctx) {
		return fn(s.st)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.st)
}

func (st *state) clone() *state {
	cp := &state{
		products:     make(map[string]*domcatalog.Product, len(st.products)),
		slugs:        make(map[string]string, len(st.slugs)),
		reservations: make(map[string][]domcatalog.Reservation, len(st.reservations)),
		orders:       make(map[string]*domorder.Order, len(st.orders)),
		numbers:      make(map[string]string, len(st.numbers)),
		sessions:     make(map[string]string, len(st.sessions)),
		orderSeq:     st.orderSeq,
		customers:    make(map[string]*domcustomer.Customer, len(st.customers)),
		ledger:       append([]dominv.Entry(nil), st.ledger...),
		animals:      make(map[string]*domlivestock.Animal, len(st.animals)),
		externals:    make(map[string]string, len(st.externals)),
		settings:     make(map[string]string, len(st.settings)),
		events:       make(map[string]dompayment.EventType, len(st.events)),
		outbox:       make([]domoutbox.Message, len(st.outbox)),
	}
	for k, v := range st.products {
		cp.products[k] = v.Clone()
	}
	for k, v := range st.slugs {
		cp.slugs[k] = v
	}
	for k, v := range st.reservations {
		cp.reservations[k] = append([]domcatalog.Reservation(nil), v...)
	}
	for k, v := range st.orders {
		cp.orders[k] = v.Clone()
	}
	for k, v := range st.numbers {
		cp.numbers[k] = v
	}
	for k, v := range st.sessions {
		cp.sessions[k] = v
	}
	for k, v := range st.customers {
		c := *v
		cp.customers[k] = &c
	}
	for k, v := range st.animals {
		cp.animals[k] = v.Clone()
	}
	for k, v := range st.externals {
		cp.externals[k] = v
	}
	for k, v := range st.settings {
		cp.settings[k] = v
	}
	for k, v := range st.events {
		cp.events[k] = v
	}
	copy(cp.outbox, st.outbox)
	return cp
}

// Repositories bundles the per-aggregate views over one Store.
type Repositories struct {
	Products     *ProductRepository
	Reservations *ReservationRepository
	Orders       *OrderRepository
	Customers    *CustomerRepository
	Ledger       *Ledger
	Animals      *AnimalRepository
	Settings     *SettingsRepository
	Events       *EventLog
	Outbox       *OutboxStore
}

func (s *Store) Repositories() Repositories {
	return Repositories{
		Products:     &ProductRepository{s: s},
		Reservations: &ReservationRepository{s: s},
		Orders:       &OrderRepository{s: s},
		Customers:    &CustomerRepository{s: s},
		Ledger:       &Ledger{s: s},
		Animals:      &AnimalRepository{s: s},
		Settings:     &SettingsRepository{s: s},
		Events:       &EventLog{s: s},
		Outbox:       &OutboxStore{s: s},
	}
}
