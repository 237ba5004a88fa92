package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/telecare/telecare/internal/platform/docstore"
)

const appointmentsCollection = "appointments"

// Indexes lists the indexes the appointments collection relies on. The slot
// index is deliberately not unique: cancelled appointments keep their slot.
var Indexes = []docstore.Index{
	{Collection: appointmentsCollection, Model: mongo.IndexModel{
		Keys: bson.D{{Key: "doctorId", Value: 1}, {Key: "date", Value: 1}, {Key: "time", Value: 1}},
	}},
	{Collection: appointmentsCollection, Model: mongo.IndexModel{
		Keys: bson.D{{Key: "patientId", Value: 1}, {Key: "date", Value: -1}},
	}},
	{Collection: appointmentsCollection, Model: mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}},
	}},
}

type paymentDoc struct {
	Status        string               `bson:"status"`
	Amount        primitive.Decimal128 `bson:"amount"`
	Currency      string               `bson:"currency"`
	TransactionID string               `bson:"transactionId,omitempty"`
	PaidAt        *time.Time           `bson:"paidAt,omitempty"`
}

type rescheduleDoc struct {
	Date   time.Time `bson:"date"`
	Time   string    `bson:"time"`
	Reason string    `bson:"reason,omitempty"`
}

type messageDoc struct {
	ID        string    `bson:"_id"`
	SenderID  string    `bson:"sender"`
	Message   string    `bson:"message"`
	Type      string    `bson:"type"`
	Timestamp time.Time `bson:"timestamp"`
	ReadBy    []string  `bson:"readBy"`
}

type apptDoc struct {
	ID                 string               `bson:"_id"`
	PatientID          string               `bson:"patientId"`
	DoctorID           string               `bson:"doctorId"`
	Date               time.Time            `bson:"date"`
	Time               string               `bson:"time"`
	Duration           int                  `bson:"duration"`
	Type               string               `bson:"type"`
	Mode               string               `bson:"mode"`
	Status             string               `bson:"status"`
	Symptoms           []string             `bson:"symptoms"`
	PatientNotes       string               `bson:"patientNotes,omitempty"`
	DoctorNotes        string               `bson:"doctorNotes,omitempty"`
	Diagnosis          string               `bson:"diagnosis,omitempty"`
	Treatment          string               `bson:"treatment,omitempty"`
	FollowUp           string               `bson:"followUp,omitempty"`
	Signature          string               `bson:"signature,omitempty"`
	ConsultationFee    primitive.Decimal128 `bson:"consultationFee"`
	Payment            paymentDoc           `bson:"payment"`
	RescheduledFrom    *rescheduleDoc       `bson:"rescheduledFrom,omitempty"`
	RescheduledBy      string               `bson:"rescheduledBy,omitempty"`
	RescheduledAt      *time.Time           `bson:"rescheduledAt,omitempty"`
	CancellationReason string               `bson:"cancellationReason,omitempty"`
	CancelledBy        string               `bson:"cancelledBy,omitempty"`
	CancelledAt        *time.Time           `bson:"cancelledAt,omitempty"`
	Rating             *int                 `bson:"rating,omitempty"`
	Review             string               `bson:"review,omitempty"`
	ReviewDate         *time.Time           `bson:"reviewDate,omitempty"`
	Messages           []messageDoc         `bson:"messages"`
	CreatedAt          time.Time            `bson:"createdAt"`
	UpdatedAt          time.Time            `bson:"updatedAt"`
}

func optionalID(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

func parseOptionalID(s string) (*uuid.UUID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func toMessageDoc(m *Message) messageDoc {
	return messageDoc{
		ID: m.ID.String(), SenderID: m.SenderID.String(), Message: m.Message,
		Type: m.Type, Timestamp: m.Timestamp, ReadBy: idStrings(m.ReadBy),
	}
}

func (d messageDoc) toMessage() (Message, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return Message{}, err
	}
	sender, err := uuid.Parse(d.SenderID)
	if err != nil {
		return Message{}, err
	}
	m := Message{ID: id, SenderID: sender, Message: d.Message, Type: d.Type, Timestamp: d.Timestamp}
	for _, s := range d.ReadBy {
		uid, err := uuid.Parse(s)
		if err != nil {
			return Message{}, err
		}
		m.ReadBy = append(m.ReadBy, uid)
	}
	return m, nil
}

func toApptDoc(a *Appointment) (*apptDoc, error) {
	fee, err := docstore.ToDecimal128(a.ConsultationFee)
	if err != nil {
		return nil, err
	}
	amount, err := docstore.ToDecimal128(a.Payment.Amount)
	if err != nil {
		return nil, err
	}
	d := &apptDoc{
		ID: a.ID.String(), PatientID: a.PatientID.String(), DoctorID: a.DoctorID.String(),
		Date: a.Date, Time: a.Time, Duration: a.Duration, Type: a.Type, Mode: a.Mode, Status: a.Status,
		Symptoms: a.Symptoms, PatientNotes: a.PatientNotes, DoctorNotes: a.DoctorNotes,
		Diagnosis: a.Diagnosis, Treatment: a.Treatment, FollowUp: a.FollowUp, Signature: a.Signature,
		ConsultationFee: fee,
		Payment: paymentDoc{
			Status: a.Payment.Status, Amount: amount, Currency: a.Payment.Currency,
			TransactionID: a.Payment.TransactionID, PaidAt: a.Payment.PaidAt,
		},
		RescheduledBy: optionalID(a.RescheduledBy), RescheduledAt: a.RescheduledAt,
		CancellationReason: a.CancellationReason, CancelledBy: optionalID(a.CancelledBy), CancelledAt: a.CancelledAt,
		Rating: a.Rating, Review: a.Review, ReviewDate: a.ReviewDate,
		Messages:  []messageDoc{},
		CreatedAt: a.CreatedAt, UpdatedAt: a.UpdatedAt,
	}
	if d.Symptoms == nil {
		d.Symptoms = []string{}
	}
	if rf := a.RescheduledFrom; rf != nil {
		d.RescheduledFrom = &rescheduleDoc{Date: rf.Date, Time: rf.Time, Reason: rf.Reason}
	}
	for i := range a.Messages {
		d.Messages = append(d.Messages, toMessageDoc(&a.Messages[i]))
	}
	return d, nil
}

func (d *apptDoc) toAppointment() (*Appointment, error) {
	var err error
	a := &Appointment{
		Date: Day(d.Date), Time: d.Time, Duration: d.Duration, Type: d.Type, Mode: d.Mode, Status: d.Status,
		Symptoms: d.Symptoms, PatientNotes: d.PatientNotes, DoctorNotes: d.DoctorNotes,
		Diagnosis: d.Diagnosis, Treatment: d.Treatment, FollowUp: d.FollowUp, Signature: d.Signature,
		Payment: Payment{
			Status: d.Payment.Status, Currency: d.Payment.Currency,
			TransactionID: d.Payment.TransactionID, PaidAt: d.Payment.PaidAt,
		},
		RescheduledAt: d.RescheduledAt, CancellationReason: d.CancellationReason, CancelledAt: d.CancelledAt,
		Rating: d.Rating, Review: d.Review, ReviewDate: d.ReviewDate,
		CreatedAt: d.CreatedAt, UpdatedAt: d.UpdatedAt,
	}
	if a.Symptoms == nil {
		a.Symptoms = []string{}
	}
	if a.ID, err = uuid.Parse(d.ID); err != nil {
		return nil, fmt.Errorf("appointment %q: %w", d.ID, err)
	}
	if a.PatientID, err = uuid.Parse(d.PatientID); err != nil {
		return nil, fmt.Errorf("appointment %s patient: %w", d.ID, err)
	}
	if a.DoctorID, err = uuid.Parse(d.DoctorID); err != nil {
		return nil, fmt.Errorf("appointment %s doctor: %w", d.ID, err)
	}
	if a.RescheduledBy, err = parseOptionalID(d.RescheduledBy); err != nil {
		return nil, err
	}
	if a.CancelledBy, err = parseOptionalID(d.CancelledBy); err != nil {
		return nil, err
	}
	if a.ConsultationFee, err = docstore.FromDecimal128(d.ConsultationFee); err != nil {
		return nil, err
	}
	if a.Payment.Amount, err = docstore.FromDecimal128(d.Payment.Amount); err != nil {
		return nil, err
	}
	if rf := d.RescheduledFrom; rf != nil {
		a.RescheduledFrom = &RescheduleRecord{Date: Day(rf.Date), Time: rf.Time, Reason: rf.Reason}
	}
	for _, md := range d.Messages {
		m, err := md.toMessage()
		if err != nil {
			return nil, fmt.Errorf("appointment %s message: %w", d.ID, err)
		}
		a.Messages = append(a.Messages, m)
	}
	return a, nil
}

type appointmentRepoMongo struct{ coll *mongo.Collection }

func NewRepoMongo(store *docstore.Store) Repository {
	return &appointmentRepoMongo{coll: store.Collection(appointmentsCollection)}
}

// NewMongoTransactor returns a Transactor that runs work directly. Each
// write in the document store is atomic on its own document.
func NewMongoTransactor() Transactor { return noTx{} }

func (r *appointmentRepoMongo) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	doc, err := toApptDoc(a)
	if err != nil {
		return err
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepoMongo) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	var doc apptDoc
	err := r.coll.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toAppointment()
}

func (r *appointmentRepoMongo) Update(ctx context.Context, a *Appointment) error {
	a.UpdatedAt = time.Now().UTC()
	doc, err := toApptDoc(a)
	if err != nil {
		return err
	}
	raw, err := bson.Marshal(doc)
	if err != nil {
		return err
	}
	var set bson.M
	if err := bson.Unmarshal(raw, &set); err != nil {
		return err
	}
	delete(set, "_id")
	delete(set, "messages")
	delete(set, "createdAt")

	unset := bson.M{}
	for _, key := range []string{
		"rescheduledFrom", "rescheduledBy", "rescheduledAt",
		"cancellationReason", "cancelledBy", "cancelledAt",
		"rating", "review", "reviewDate",
		"patientNotes", "doctorNotes", "diagnosis", "treatment", "followUp", "signature",
	} {
		if _, ok := set[key]; !ok {
			unset[key] = ""
		}
	}
	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	res, err := r.coll.UpdateByID(ctx, a.ID.String(), update)
	if err != nil {
		return fmt.Errorf("update appointment: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func mongoFilter(f Filter) bson.M {
	q := bson.M{}
	if f.PatientID != nil {
		q["patientId"] = f.PatientID.String()
	}
	if f.DoctorID != nil {
		q["doctorId"] = f.DoctorID.String()
	}
	if len(f.Statuses) > 0 {
		q["status"] = bson.M{"$in": f.Statuses}
	}
	if f.Type != "" {
		q["type"] = f.Type
	}
	if f.Mode != "" {
		q["mode"] = f.Mode
	}
	if f.From != nil || f.To != nil {
		rng := bson.M{}
		if f.From != nil {
			rng["$gte"] = Day(*f.From)
		}
		if f.To != nil {
			rng["$lte"] = Day(*f.To)
		}
		q["date"] = rng
		if f.From != nil && f.FromTime != "" {
			q["$or"] = bson.A{
				bson.M{"date": bson.M{"$gt": Day(*f.From)}},
				bson.M{"time": bson.M{"$gte": f.FromTime}},
			}
		}
	}
	return q
}

func (r *appointmentRepoMongo) List(ctx context.Context, f Filter, limit, offset int) ([]*Appointment, int, error) {
	filter := mongoFilter(f)
	total, err := r.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	dir := -1
	if f.Ascending {
		dir = 1
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "date", Value: dir}, {Key: "time", Value: dir}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit)).
		SetProjection(bson.M{"messages": 0})
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	defer cur.Close(ctx)

	var items []*Appointment
	for cur.Next(ctx) {
		var doc apptDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, 0, err
		}
		a, err := doc.toAppointment()
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, int(total), cur.Err()
}

func (r *appointmentRepoMongo) CountByStatus(ctx context.Context, f Filter) (map[string]int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: mongoFilter(f)}},
		{{Key: "$group", Value: bson.M{"_id": "$status", "count": bson.M{"$sum": 1}}}},
	}
	cur, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	counts := make(map[string]int)
	for cur.Next(ctx) {
		var row struct {
			Status string `bson:"_id"`
			Count  int    `bson:"count"`
		}
		if err := cur.Decode(&row); err != nil {
			return nil, err
		}
		counts[row.Status] = row.Count
	}
	return counts, cur.Err()
}

func (r *appointmentRepoMongo) HasConflict(ctx context.Context, doctorID uuid.UUID, date time.Time, clock string, excludeID *uuid.UUID) (bool, error) {
	filter := bson.M{
		"doctorId": doctorID.String(),
		"date":     Day(date),
		"time":     clock,
		"status":   bson.M{"$ne": StatusCancelled},
	}
	if excludeID != nil {
		filter["_id"] = bson.M{"$ne": excludeID.String()}
	}
	n, err := r.coll.CountDocuments(ctx, filter, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("check slot: %w", err)
	}
	return n > 0, nil
}

func (r *appointmentRepoMongo) RatingSummary(ctx context.Context, doctorID uuid.UUID) (float64, int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"doctorId": doctorID.String(), "rating": bson.M{"$exists": true, "$ne": nil}}}},
		{{Key: "$group", Value: bson.M{
			"_id":   nil,
			"avg":   bson.M{"$avg": "$rating"},
			"count": bson.M{"$sum": 1},
		}}},
	}
	cur, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, 0, fmt.Errorf("rating summary: %w", err)
	}
	defer cur.Close(ctx)

	if !cur.Next(ctx) {
		return 0, 0, cur.Err()
	}
	var row struct {
		Avg   float64 `bson:"avg"`
		Count int     `bson:"count"`
	}
	if err := cur.Decode(&row); err != nil {
		return 0, 0, err
	}
	return row.Avg, row.Count, nil
}

func (r *appointmentRepoMongo) AddMessage(ctx context.Context, appointmentID uuid.UUID, m *Message) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	res, err := r.coll.UpdateByID(ctx, appointmentID.String(), bson.M{
		"$push": bson.M{"messages": toMessageDoc(m)},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
	})
	if err != nil {
		return fmt.Errorf("add message: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *appointmentRepoMongo) MarkMessagesRead(ctx context.Context, appointmentID, userID uuid.UUID) (int, error) {
	a, err := r.GetByID(ctx, appointmentID)
	if err != nil {
		return 0, err
	}
	unread := 0
	for i := range a.Messages {
		if !a.Messages[i].IsReadBy(userID) {
			unread++
		}
	}
	if unread == 0 {
		return 0, nil
	}

	uid := userID.String()
	opts := options.Update().SetArrayFilters(options.ArrayFilters{
		Filters: []interface{}{bson.M{"m.readBy": bson.M{"$ne": uid}}},
	})
	_, err = r.coll.UpdateOne(ctx,
		bson.M{"_id": appointmentID.String()},
		bson.M{"$addToSet": bson.M{"messages.$[m].readBy": uid}},
		opts)
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}
	return unread, nil
}

func (r *appointmentRepoMongo) DeleteMessage(ctx context.Context, appointmentID, messageID uuid.UUID) error {
	mid := messageID.String()
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": appointmentID.String(), "messages._id": mid},
		bson.M{"$pull": bson.M{"messages": bson.M{"_id": mid}}})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrMessageNotFound
	}
	return nil
}
