package firestore

import (
	"context"
	"errors"
	"sort"

	fs "cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"haulpay/internal/domain"
	"haulpay/internal/repository"
)

// TripRepository is a Firestore implementation of repository.TripRepository.
type TripRepository struct {
	client *fs.Client
}

// NewTripRepository creates a new Firestore trip repository.
func NewTripRepository(client *fs.Client) *TripRepository {
	return &TripRepository{client: client}
}

// Create adds a trip document with a generated ID.
func (r *TripRepository) Create(ctx context.Context, userID string, startMileage float64) (string, error) {
	ref := r.client.Collection(tripsCollection).NewDoc()
	doc := tripDoc{
		UserID:         userID,
		StartMileage:   startMileage,
		CurrentMileage: startMileage,
		Loads:          []loadDoc{},
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		return "", err
	}
	return ref.ID, nil
}

// GetByID retrieves a trip by ID.
func (r *TripRepository) GetByID(ctx context.Context, id string) (*domain.Trip, error) {
	snap, err := r.client.Collection(tripsCollection).Doc(id).Get(ctx)
	if err != nil {
		return nil, mapError(err)
	}

	var doc tripDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, err
	}
	return fromTripDoc(snap.Ref.ID, doc), nil
}

// ListByUser retrieves a user's trips, newest first.
func (r *TripRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Trip, error) {
	iter := r.client.Collection(tripsCollection).Where("userId", "==", userID).Documents(ctx)
	defer iter.Stop()

	var trips []*domain.Trip
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}

		var doc tripDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, err
		}
		trips = append(trips, fromTripDoc(snap.Ref.ID, doc))
	}

	// Sorted here so the query needs no composite index.
	sort.SliceStable(trips, func(i, j int) bool {
		return trips[i].CreatedAt.After(trips[j].CreatedAt)
	})
	return trips, nil
}

// Update applies a partial update to a trip.
func (r *TripRepository) Update(ctx context.Context, id string, patch domain.TripPatch) error {
	updates, err := tripUpdates(patch)
	if err != nil {
		return err
	}
	_, err = r.client.Collection(tripsCollection).Doc(id).Update(ctx, updates)
	return mapError(err)
}

// Delete removes a trip.
func (r *TripRepository) Delete(ctx context.Context, id string) error {
	_, err := r.client.Collection(tripsCollection).Doc(id).Delete(ctx, fs.Exists)
	return mapError(err)
}

// tripUpdates turns a patch into field updates. updatedAt is always refreshed.
func tripUpdates(patch domain.TripPatch) ([]fs.Update, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	var updates []fs.Update
	if patch.CurrentMileage != nil {
		updates = append(updates, fs.Update{Path: "currentMileage", Value: *patch.CurrentMileage})
	}
	if patch.EndMileage != nil {
		updates = append(updates, fs.Update{Path: "endMileage", Value: *patch.EndMileage})
	}
	if patch.Loads != nil {
		updates = append(updates, fs.Update{Path: "loads", Value: toLoadDocs(*patch.Loads)})
	}
	if patch.NightMiles != nil {
		updates = append(updates, fs.Update{Path: "nightMiles", Value: *patch.NightMiles})
	}
	if patch.TotalPay != nil {
		updates = append(updates, fs.Update{Path: "totalPay", Value: *patch.TotalPay})
	}
	if patch.IsFinished != nil {
		updates = append(updates, fs.Update{Path: "isFinished", Value: *patch.IsFinished})
	}
	if patch.FinishedAt != nil {
		updates = append(updates, fs.Update{Path: "finishedAt", Value: *patch.FinishedAt})
	}
	if ts := patch.Tracking; ts != nil {
		updates = append(updates,
			fs.Update{Path: "trackingActive", Value: ts.Active},
			fs.Update{Path: "trackingMilesBuffer", Value: ts.MilesBuffer},
			fs.Update{Path: "trackingNightMilesBuffer", Value: ts.NightMilesBuffer},
		)
		if ts.Target != nil {
			updates = append(updates, fs.Update{Path: "trackingTarget", Value: toTargetDoc(ts.Target)})
		} else {
			updates = append(updates, fs.Update{Path: "trackingTarget", Value: fs.Delete})
		}
		if ts.LastLocation != nil {
			updates = append(updates, fs.Update{Path: "trackingLastLocation", Value: toGeoDoc(ts.LastLocation)})
		} else {
			updates = append(updates, fs.Update{Path: "trackingLastLocation", Value: fs.Delete})
		}
	}

	updates = append(updates, fs.Update{Path: "updatedAt", Value: fs.ServerTimestamp})
	return updates, nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if status.Code(err) == codes.NotFound {
		return repository.ErrNotFound
	}
	return err
}

// Ensure TripRepository implements repository.TripRepository.
var _ repository.TripRepository = (*TripRepository)(nil)
