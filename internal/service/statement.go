package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"haulpay/internal/domain"
	"haulpay/internal/pay"
)

// StatementService builds pay statements for trips.
type StatementService struct {
	now func() time.Time
}

// NewStatementService creates a new StatementService.
func NewStatementService() *StatementService {
	return &StatementService{now: time.Now}
}

// GenerateStatement itemises a trip's pay under the given settings.
func (s *StatementService) GenerateStatement(trip *domain.Trip, settings domain.Settings) (*domain.PayStatement, error) {
	if trip == nil {
		return nil, ErrInvalidTripID
	}

	end := trip.CurrentMileage
	if trip.EndMileage != nil {
		end = *trip.EndMileage
	}

	return &domain.PayStatement{
		ID:           uuid.New().String(),
		TripID:       trip.ID,
		UserID:       trip.UserID,
		StartMileage: trip.StartMileage,
		EndMileage:   end,
		Breakdown:    pay.Explain(trip.TripMiles(), trip.Loads, settings, trip.NightMiles),
		StoredPay:    trip.TotalPay,
		IsFinished:   trip.IsFinished,
		StartedAt:    trip.CreatedAt,
		FinishedAt:   trip.FinishedAt,
		GeneratedAt:  s.now(),
	}, nil
}

// FormatStatement renders the statement as plain text (for email/print).
func (s *StatementService) FormatStatement(st *domain.PayStatement) string {
	b := st.Breakdown

	status := "IN PROGRESS"
	finished := "-"
	if st.IsFinished {
		status = "FINISHED"
	}
	if st.FinishedAt != nil {
		finished = st.FinishedAt.Format("Jan 02, 2006 3:04 PM")
	}

	var sb strings.Builder
	sb.WriteString(`
=====================================
        TRIP PAY STATEMENT
=====================================
Statement ID: ` + st.ID + `
Trip ID: ` + st.TripID + `
Status: ` + status + `
Started: ` + st.StartedAt.Format("Jan 02, 2006 3:04 PM") + `
Finished: ` + finished + `

MILEAGE
-------------------------------------
Odometer:    ` + formatFloat(st.StartMileage) + ` -> ` + formatFloat(st.EndMileage) + `
Trip miles:  ` + formatFloat(b.TripMiles) + `
Day miles:   ` + formatFloat(b.DayMiles) + `
Night miles: ` + formatFloat(b.NightMiles) + `

PAY BREAKDOWN
-------------------------------------
Mileage (` + formatFloat(b.CPM) + `/mi):  $` + formatFloat(b.MileagePay-b.NightBonus) + `
Night bonus (` + formatFloat(b.NightExtraCPM) + `/mi): $` + formatFloat(b.NightBonus) + `
Loads (` + fmt.Sprint(b.Loads) + `):        $` + formatFloat(b.LoadsPay) + `
Stops (` + fmt.Sprint(b.Stops) + `):        $` + formatFloat(b.StopsPay) + `
-------------------------------------
TOTAL:            $` + formatFloat(b.Total) + `
`)

	if pay.Drifted(st.StoredPay, b.Total) {
		sb.WriteString("Recorded:         $" + formatFloat(st.StoredPay) + " (rates changed since)\n")
	}

	sb.WriteString(`
=====================================
`)
	return sb.String()
}

func formatFloat(f float64) string {
	return fmt.Sprintf("%.2f", f)
}
