package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"persona/backend/ai"
	"persona/backend/internal/models"
	"persona/backend/internal/ws"
	apperrors "persona/backend/pkg/errors"

	"github.com/google/uuid"
)

var errBoom = errors.New("boom")

type fakeChatRepo struct {
	mu         sync.Mutex
	chats      map[uuid.UUID]models.Chat
	messages   []models.Message
	clock      time.Time
	failAppend func(*models.Message) error
}

// touch advances the clock and stamps the chat like a message write does
func (r *fakeChatRepo) touch(chatID uuid.UUID) time.Time {
	r.clock = r.clock.Add(time.Second)
	c := r.chats[chatID]
	c.UpdatedAt = r.clock
	r.chats[chatID] = c
	return r.clock
}

func newFakeChatRepo() *fakeChatRepo {
	return &fakeChatRepo{
		chats: make(map[uuid.UUID]models.Chat),
		clock: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (r *fakeChatRepo) owned(userID string, chatID uuid.UUID) (models.Chat, bool) {
	c, ok := r.chats[chatID]
	return c, ok && c.UserID == userID
}

func (r *fakeChatRepo) Create(_ context.Context, chat *models.Chat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	chat.ID = uuid.New()
	chat.CreatedAt, chat.UpdatedAt = r.clock, r.clock
	r.chats[chat.ID] = *chat
	return nil
}

func (r *fakeChatRepo) ListByUser(_ context.Context, userID string) ([]models.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Chat
	for _, c := range r.chats {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeChatRepo) Get(_ context.Context, userID string, chatID uuid.UUID) (*models.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.owned(userID, chatID)
	if !ok {
		return nil, apperrors.NotFoundf("chat %s", chatID)
	}
	return &c, nil
}

func (r *fakeChatRepo) Rename(_ context.Context, userID string, chatID uuid.UUID, title string) (*models.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.owned(userID, chatID)
	if !ok {
		return nil, apperrors.NotFoundf("chat %s", chatID)
	}
	c.Title = title
	r.chats[chatID] = c
	return &c, nil
}

func (r *fakeChatRepo) Delete(_ context.Context, userID string, chatID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.owned(userID, chatID); !ok {
		return apperrors.NotFoundf("chat %s", chatID)
	}
	delete(r.chats, chatID)
	kept := r.messages[:0]
	for _, m := range r.messages {
		if m.ChatID != chatID {
			kept = append(kept, m)
		}
	}
	r.messages = kept
	return nil
}

func (r *fakeChatRepo) ListMessages(_ context.Context, userID string, chatID uuid.UUID) ([]models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Message
	if _, ok := r.owned(userID, chatID); !ok {
		return out, nil
	}
	for _, m := range r.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *fakeChatRepo) AppendMessage(_ context.Context, userID string, msg *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.owned(userID, msg.ChatID); !ok {
		return apperrors.NotFoundf("chat %s", msg.ChatID)
	}
	if r.failAppend != nil {
		if err := r.failAppend(msg); err != nil {
			return err
		}
	}
	if msg.ParentID != nil {
		found := false
		for _, m := range r.messages {
			if m.ID == *msg.ParentID && m.ChatID == msg.ChatID {
				found = true
			}
		}
		if !found {
			return apperrors.Validationf("parent %s not in chat", msg.ParentID)
		}
	}
	msg.ID = uuid.New()
	msg.CreatedAt = r.touch(msg.ChatID)
	r.messages = append(r.messages, *msg)
	return nil
}

func (r *fakeChatRepo) DeleteMessage(_ context.Context, userID string, chatID, messageID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.owned(userID, chatID); !ok {
		return apperrors.NotFoundf("message %s", messageID)
	}
	doomed := map[uuid.UUID]bool{messageID: true}
	for changed := true; changed; {
		changed = false
		for _, m := range r.messages {
			if m.ParentID != nil && doomed[*m.ParentID] && !doomed[m.ID] {
				doomed[m.ID] = true
				changed = true
			}
		}
	}
	kept := r.messages[:0]
	removed := 0
	for _, m := range r.messages {
		if m.ChatID == chatID && doomed[m.ID] {
			removed++
			continue
		}
		kept = append(kept, m)
	}
	r.messages = kept
	if removed == 0 {
		return apperrors.NotFoundf("message %s", messageID)
	}
	r.touch(chatID)
	return nil
}

type fakePersonaRepo struct {
	mu       sync.Mutex
	personas map[uuid.UUID]*models.Persona
	versions map[uuid.UUID][]models.PersonaVersion
	calls    map[string]int
}

func newFakePersonaRepo() *fakePersonaRepo {
	return &fakePersonaRepo{
		personas: make(map[uuid.UUID]*models.Persona),
		versions: make(map[uuid.UUID][]models.PersonaVersion),
		calls:    make(map[string]int),
	}
}

func (r *fakePersonaRepo) copyOf(p *models.Persona) *models.Persona {
	out := *p
	for i, v := range r.versions[p.ID] {
		if p.CurrentVersionID != nil && v.ID == *p.CurrentVersionID {
			out.CurrentVersion = &r.versions[p.ID][i]
		}
	}
	return &out
}

func (r *fakePersonaRepo) Create(_ context.Context, persona *models.Persona, first *models.PersonaVersion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	persona.ID = uuid.New()
	first.ID = uuid.New()
	first.PersonaID = persona.ID
	first.Version = 1
	persona.CurrentVersionID = &first.ID
	persona.CurrentVersion = first
	stored := *persona
	r.personas[persona.ID] = &stored
	r.versions[persona.ID] = []models.PersonaVersion{*first}
	return nil
}

func (r *fakePersonaRepo) CreateVersion(_ context.Context, ownerID string, personaID uuid.UUID, version *models.PersonaVersion, requested *int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.personas[personaID]
	if !ok || p.OwnerID != ownerID {
		return apperrors.NotFoundf("persona %s", personaID)
	}
	currentMax := 0
	for _, v := range r.versions[personaID] {
		if v.Version > currentMax {
			currentMax = v.Version
		}
	}
	number, err := models.NextVersionNumber(currentMax, requested)
	if err != nil {
		return apperrors.Validationf("%s", err.Error())
	}
	version.ID = uuid.New()
	version.PersonaID = personaID
	version.Version = number
	r.versions[personaID] = append(r.versions[personaID], *version)
	p.CurrentVersionID = &version.ID
	return nil
}

func (r *fakePersonaRepo) SetCurrentVersion(_ context.Context, ownerID string, personaID, versionID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.personas[personaID]
	if !ok || p.OwnerID != ownerID {
		return apperrors.NotFoundf("persona %s", personaID)
	}
	for _, v := range r.versions[personaID] {
		if v.ID == versionID {
			id := versionID
			p.CurrentVersionID = &id
			return nil
		}
	}
	return apperrors.NotFoundf("version %s", versionID)
}

func (r *fakePersonaRepo) DeleteVersion(_ context.Context, ownerID string, personaID, versionID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.personas[personaID]
	if !ok || p.OwnerID != ownerID {
		return apperrors.NotFoundf("persona %s", personaID)
	}
	if p.CurrentVersionID != nil && *p.CurrentVersionID == versionID {
		return apperrors.Validationf("version %s is current", versionID)
	}
	versions := r.versions[personaID]
	for i, v := range versions {
		if v.ID == versionID {
			r.versions[personaID] = append(versions[:i:i], versions[i+1:]...)
			return nil
		}
	}
	return apperrors.NotFoundf("version %s", versionID)
}

func (r *fakePersonaRepo) Get(_ context.Context, ownerID string, personaID uuid.UUID) (*models.Persona, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.personas[personaID]
	if !ok || p.OwnerID != ownerID {
		return nil, apperrors.NotFoundf("persona %s", personaID)
	}
	return r.copyOf(p), nil
}

func (r *fakePersonaRepo) GetVisible(_ context.Context, userID string, personaID uuid.UUID) (*models.Persona, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.personas[personaID]
	if !ok || (p.OwnerID != userID && p.Visibility != models.VisibilityPublic) {
		return nil, apperrors.NotFoundf("persona %s", personaID)
	}
	return r.copyOf(p), nil
}

func (r *fakePersonaRepo) List(_ context.Context, ownerID string) ([]models.Persona, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Persona
	for _, p := range r.personas {
		if p.OwnerID == ownerID {
			out = append(out, *r.copyOf(p))
		}
	}
	return out, nil
}

func (r *fakePersonaRepo) ListVersions(_ context.Context, ownerID string, personaID uuid.UUID) ([]models.PersonaVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.personas[personaID]
	if !ok || p.OwnerID != ownerID {
		return nil, apperrors.NotFoundf("persona %s", personaID)
	}
	return append([]models.PersonaVersion(nil), r.versions[personaID]...), nil
}

func (r *fakePersonaRepo) Delete(_ context.Context, ownerID string, personaID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.personas[personaID]
	if !ok || p.OwnerID != ownerID {
		return apperrors.NotFoundf("persona %s", personaID)
	}
	delete(r.personas, personaID)
	delete(r.versions, personaID)
	return nil
}

func (r *fakePersonaRepo) SetVisibility(_ context.Context, ownerID string, personaID uuid.UUID, visibility string) (*models.Persona, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.personas[personaID]
	if !ok || p.OwnerID != ownerID {
		return nil, apperrors.NotFoundf("persona %s", personaID)
	}
	p.Visibility = visibility
	return r.copyOf(p), nil
}

func (r *fakePersonaRepo) GetPublic(_ context.Context, personaID uuid.UUID) (*models.Persona, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["GetPublic"]++
	p, ok := r.personas[personaID]
	if !ok || p.Visibility != models.VisibilityPublic {
		return nil, apperrors.NotFoundf("persona %s", personaID)
	}
	return r.copyOf(p), nil
}

func (r *fakePersonaRepo) ListPublic(_ context.Context, limit, offset int) ([]models.Persona, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls["ListPublic"]++
	var out []models.Persona
	for _, p := range r.personas {
		if p.Visibility == models.VisibilityPublic {
			out = append(out, *r.copyOf(p))
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeImageRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.ImageJob
}

func newFakeImageRepo() *fakeImageRepo {
	return &fakeImageRepo{jobs: make(map[uuid.UUID]*models.ImageJob)}
}

func (r *fakeImageRepo) Create(_ context.Context, job *models.ImageJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job.ID = uuid.New()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	stored := *job
	r.jobs[job.ID] = &stored
	return nil
}

func (r *fakeImageRepo) MarkSubmitted(_ context.Context, jobID uuid.UUID, externalID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[jobID]; ok && j.Status == models.ImageStatusPending {
		j.ExternalID = externalID
	}
	return nil
}

func (r *fakeImageRepo) Complete(_ context.Context, jobID uuid.UUID, externalID, status, imageURL, errMsg string) (*models.ImageJob, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[jobID]
	if !ok {
		return nil, false, apperrors.NotFoundf("image job %s", jobID)
	}
	if externalID != "" && j.ExternalID != "" && j.ExternalID != externalID {
		return nil, false, apperrors.Validationf("task %s does not belong to image job %s", externalID, jobID)
	}
	if j.Status != models.ImageStatusPending {
		out := *j
		return &out, false, nil
	}
	if externalID != "" {
		j.ExternalID = externalID
	}
	j.Status, j.ImageURL, j.Error = status, imageURL, errMsg
	out := *j
	return &out, true, nil
}

func (r *fakeImageRepo) ListByPersona(_ context.Context, userID string, personaID uuid.UUID) ([]models.ImageJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ImageJob
	for _, j := range r.jobs {
		if j.UserID == userID && j.PersonaID == personaID {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (r *fakeImageRepo) ListStale(_ context.Context, olderThan time.Time, limit int) ([]models.ImageJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ImageJob
	for _, j := range r.jobs {
		if j.Status == models.ImageStatusPending && j.CreatedAt.Before(olderThan) && len(out) < limit {
			out = append(out, *j)
		}
	}
	return out, nil
}

func (r *fakeImageRepo) job(id uuid.UUID) models.ImageJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.jobs[id]
}

type fakeUserRepo struct {
	mu      sync.Mutex
	users   map[string]models.User
	upserts int
}

func (r *fakeUserRepo) Upsert(_ context.Context, user *models.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.users == nil {
		r.users = make(map[string]models.User)
	}
	r.upserts++
	r.users[user.ID] = *user
	return nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id string) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, apperrors.NotFoundf("user %s", id)
	}
	return &u, nil
}

type fakeResponder struct {
	reply   ai.Reply
	err     error
	persona *models.PersonaVersion
	history []models.Message
}

func (f *fakeResponder) Reply(_ context.Context, persona *models.PersonaVersion, history []models.Message) (ai.Reply, error) {
	f.persona = persona
	f.history = history
	return f.reply, f.err
}

type fakeTaskClient struct {
	id    string
	err   error
	tasks []ai.ImageTask
}

func (f *fakeTaskClient) SubmitImage(_ context.Context, task ai.ImageTask) (string, error) {
	f.tasks = append(f.tasks, task)
	return f.id, f.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []ws.Event
}

func (p *recordingPublisher) Publish(chatID uuid.UUID, event ws.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	event.ChatID = chatID
	p.events = append(p.events, event)
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}
