// Package telemetry decorates the redemption lifecycle with OpenTelemetry
// traces and counters. The decorators are transparent: they satisfy the same
// contracts as the services they wrap.
package telemetry

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/xenking/promo-engine/internal/domain/redemption"
)

const scopeName = "github.com/xenking/promo-engine/internal/telemetry"

// Reserver matches the reservation entry point of redemption.Manager.
type Reserver interface {
	Reserve(ctx context.Context, in redemption.ReserveInput) (redemption.Reservation, error)
}

// Ledger matches the redeem/release entry points of redemption.Ledger.
type Ledger interface {
	Redeem(ctx context.Context, ord redemption.Order) error
	Release(ctx context.Context, orderID, reason string) error
}

// Lifecycle wraps a Reserver and a Ledger with spans and counters.
type Lifecycle struct {
	reserver Reserver
	ledger   Ledger
	tracer   trace.Tracer

	reservations metric.Int64Counter
	redemptions  metric.Int64Counter
	releases     metric.Int64Counter
}

// NewLifecycle builds the instrumented decorator from the raw services and
// the application's telemetry providers.
func NewLifecycle(
	reserver Reserver,
	ledger Ledger,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
) (*Lifecycle, error) {
	meter := mp.Meter(scopeName)

	reservations, err := meter.Int64Counter("promo.reservations",
		metric.WithDescription("Coupon capacity holds placed"))
	if err != nil {
		return nil, errors.Wrap(err, "reservations counter")
	}
	redemptions, err := meter.Int64Counter("promo.redemptions",
		metric.WithDescription("Coupon redemptions finalized"))
	if err != nil {
		return nil, errors.Wrap(err, "redemptions counter")
	}
	releases, err := meter.Int64Counter("promo.releases",
		metric.WithDescription("Coupon capacity releases"))
	if err != nil {
		return nil, errors.Wrap(err, "releases counter")
	}

	return &Lifecycle{
		reserver:     reserver,
		ledger:       ledger,
		tracer:       tp.Tracer(scopeName),
		reservations: reservations,
		redemptions:  redemptions,
		releases:     releases,
	}, nil
}

// Reserve traces the capacity hold and counts successful holds.
func (l *Lifecycle) Reserve(ctx context.Context, in redemption.ReserveInput) (redemption.Reservation, error) {
	ctx, span := l.tracer.Start(ctx, "promo.Reserve", trace.WithAttributes(
		attribute.String("coupon.id", in.CouponID),
		attribute.String("order.id", in.OrderID),
	))
	defer span.End()

	res, err := l.reserver.Reserve(ctx, in)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}

	l.reservations.Add(ctx, 1)
	return res, nil
}

// Redeem traces the redemption and counts successful finalizations.
func (l *Lifecycle) Redeem(ctx context.Context, ord redemption.Order) error {
	ctx, span := l.tracer.Start(ctx, "promo.Redeem", trace.WithAttributes(
		attribute.String("order.id", ord.ID),
	))
	defer span.End()

	if err := l.ledger.Redeem(ctx, ord); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	l.redemptions.Add(ctx, 1)
	return nil
}

// Release traces the release and counts successful reversals.
func (l *Lifecycle) Release(ctx context.Context, orderID, reason string) error {
	ctx, span := l.tracer.Start(ctx, "promo.Release", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("reason", reason),
	))
	defer span.End()

	if err := l.ledger.Release(ctx, orderID, reason); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	l.releases.Add(ctx, 1)
	return nil
}
