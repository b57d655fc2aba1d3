package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"github.com/akwean/TaskFlow-gre/domain"
)

// Storage persists boards, lists, cards and board memberships in Azure
// Table storage. Partitioning follows ownership: lists partition by board,
// cards by list, memberships by user so a dashboard load is a single
// partition scan.
type Storage struct {
	boardTable      *aztables.Client
	listTable       *aztables.Client
	cardTable       *aztables.Client
	membershipTable *aztables.Client
	userTable       *aztables.Client
}

// Tables names the five tables a Storage operates on.
type Tables struct {
	Boards      string
	Lists       string
	Cards       string
	Memberships string
	Users       string
}

// New creates a Storage instance from the given connection string.
func New(connStr string, tables Tables) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{
		boardTable:      svc.NewClient(tables.Boards),
		listTable:       svc.NewClient(tables.Lists),
		cardTable:       svc.NewClient(tables.Cards),
		membershipTable: svc.NewClient(tables.Memberships),
		userTable:       svc.NewClient(tables.Users),
	}, nil
}

type boardEntity struct {
	aztables.Entity
	Title      string `json:"Title"`
	Background string `json:"Background"`
	OwnerID    string `json:"OwnerID"`
	Members    string `json:"Members"`
	Visibility string `json:"Visibility"`
	CreatedAt  string `json:"CreatedAt"`
	UpdatedAt  string `json:"UpdatedAt"`
}

type listEntity struct {
	aztables.Entity
	Title     string `json:"Title"`
	Order     int    `json:"Order"`
	CreatedAt string `json:"CreatedAt"`
	UpdatedAt string `json:"UpdatedAt"`
}

type cardEntity struct {
	aztables.Entity
	Title       string `json:"Title"`
	Description string `json:"Description"`
	Order       int    `json:"Order"`
	Labels      string `json:"Labels"`
	Members     string `json:"Members"`
	DueDate     string `json:"DueDate"`
	Checklists  string `json:"Checklists"`
	CreatedAt   string `json:"CreatedAt"`
	UpdatedAt   string `json:"UpdatedAt"`
}

type membershipEntity struct {
	aztables.Entity
	Role string `json:"Role"`
}

type userEntity struct {
	aztables.Entity
	Username string `json:"Username"`
	Email    string `json:"Email"`
	Avatar   string `json:"Avatar"`
}

// FetchBoards retrieves every board the user belongs to, resolved through
// the membership partition.
func (s *Storage) FetchBoards(ctx context.Context, userID string) ([]domain.Board, error) {
	filter := "PartitionKey eq '" + escape(userID) + "'"
	pager := s.membershipTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	boards := []domain.Board{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent membershipEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			board, err := s.FetchBoard(ctx, ent.RowKey)
			if err != nil {
				return nil, err
			}
			if board == nil {
				// Stale membership row; the board was deleted.
				continue
			}
			boards = append(boards, *board)
		}
	}
	return boards, nil
}

func (s *Storage) FetchBoard(ctx context.Context, boardID string) (*domain.Board, error) {
	resp, err := s.boardTable.GetEntity(ctx, boardID, boardID, nil)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var ent boardEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	board := domain.Board{
		ID:         ent.RowKey,
		Title:      ent.Title,
		Background: ent.Background,
		OwnerID:    ent.OwnerID,
		Visibility: domain.Visibility(ent.Visibility),
		CreatedAt:  parseTime(ent.CreatedAt),
		UpdatedAt:  parseTime(ent.UpdatedAt),
	}
	if ent.Members != "" {
		if err := json.Unmarshal([]byte(ent.Members), &board.Members); err != nil {
			return nil, err
		}
	}
	return &board, nil
}

func (s *Storage) InsertBoard(ctx context.Context, b domain.Board) error {
	return s.writeBoard(ctx, b, nil)
}

// UpdateBoard replaces the board row and reconciles the membership
// partition with the board's member set.
func (s *Storage) UpdateBoard(ctx context.Context, b domain.Board) error {
	prev, err := s.FetchBoard(ctx, b.ID)
	if err != nil {
		return err
	}
	return s.writeBoard(ctx, b, prev)
}

func (s *Storage) writeBoard(ctx context.Context, b domain.Board, prev *domain.Board) error {
	members, err := json.Marshal(b.Members)
	if err != nil {
		return err
	}
	ent := boardEntity{
		Entity:     aztables.Entity{PartitionKey: b.ID, RowKey: b.ID},
		Title:      b.Title,
		Background: b.Background,
		OwnerID:    b.OwnerID,
		Members:    string(members),
		Visibility: string(b.Visibility),
		CreatedAt:  formatTime(b.CreatedAt),
		UpdatedAt:  formatTime(b.UpdatedAt),
	}
	data, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	if _, err := s.boardTable.UpsertEntity(ctx, data, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace}); err != nil {
		return err
	}

	current := map[string]domain.Role{}
	for _, m := range b.Members {
		current[m.UserID] = m.Role
	}
	for userID, role := range current {
		mEnt := membershipEntity{
			Entity: aztables.Entity{PartitionKey: userID, RowKey: b.ID},
			Role:   string(role),
		}
		mData, err := json.Marshal(mEnt)
		if err != nil {
			return err
		}
		if _, err := s.membershipTable.UpsertEntity(ctx, mData, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace}); err != nil {
			return err
		}
	}
	if prev != nil {
		for _, m := range prev.Members {
			if _, kept := current[m.UserID]; kept {
				continue
			}
			if _, err := s.membershipTable.DeleteEntity(ctx, m.UserID, b.ID, nil); err != nil && !isNotFound(err) {
				return err
			}
		}
	}
	return nil
}

// DeleteBoard removes the board row and its membership rows. Lists and
// cards are cascaded by the caller, which knows the board's contents.
func (s *Storage) DeleteBoard(ctx context.Context, boardID string) error {
	board, err := s.FetchBoard(ctx, boardID)
	if err != nil {
		return err
	}
	if board != nil {
		for _, m := range board.Members {
			if _, err := s.membershipTable.DeleteEntity(ctx, m.UserID, boardID, nil); err != nil && !isNotFound(err) {
				return err
			}
		}
	}
	if _, err := s.boardTable.DeleteEntity(ctx, boardID, boardID, nil); err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

func (s *Storage) FetchLists(ctx context.Context, boardID string) ([]domain.List, error) {
	filter := "PartitionKey eq '" + escape(boardID) + "'"
	pager := s.listTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	lists := []domain.List{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent listEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			lists = append(lists, domain.List{
				ID:        ent.RowKey,
				Title:     ent.Title,
				BoardID:   ent.PartitionKey,
				Order:     ent.Order,
				CreatedAt: parseTime(ent.CreatedAt),
				UpdatedAt: parseTime(ent.UpdatedAt),
			})
		}
	}
	return lists, nil
}

// FetchList resolves a list by ID alone. Lists partition by board, so this
// is a row-key scan; list counts per table stay small enough for it.
func (s *Storage) FetchList(ctx context.Context, listID string) (*domain.List, error) {
	filter := "RowKey eq '" + escape(listID) + "'"
	pager := s.listTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent listEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			return &domain.List{
				ID:        ent.RowKey,
				Title:     ent.Title,
				BoardID:   ent.PartitionKey,
				Order:     ent.Order,
				CreatedAt: parseTime(ent.CreatedAt),
				UpdatedAt: parseTime(ent.UpdatedAt),
			}, nil
		}
	}
	return nil, nil
}

func (s *Storage) InsertList(ctx context.Context, l domain.List) error {
	return s.upsertList(ctx, l)
}

func (s *Storage) UpdateList(ctx context.Context, l domain.List) error {
	return s.upsertList(ctx, l)
}

func (s *Storage) upsertList(ctx context.Context, l domain.List) error {
	ent := listEntity{
		Entity:    aztables.Entity{PartitionKey: l.BoardID, RowKey: l.ID},
		Title:     l.Title,
		Order:     l.Order,
		CreatedAt: formatTime(l.CreatedAt),
		UpdatedAt: formatTime(l.UpdatedAt),
	}
	data, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = s.listTable.UpsertEntity(ctx, data, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return err
}

// UpdateListOrder rewrites only the Order property via a merge update, so
// bulk reorders do not clobber concurrent title edits.
func (s *Storage) UpdateListOrder(ctx context.Context, boardID, listID string, order int) error {
	data, err := json.Marshal(map[string]any{
		"PartitionKey": boardID,
		"RowKey":       listID,
		"Order":        order,
	})
	if err != nil {
		return err
	}
	_, err = s.listTable.UpdateEntity(ctx, data, &aztables.UpdateEntityOptions{UpdateMode: aztables.UpdateModeMerge})
	return err
}

func (s *Storage) DeleteList(ctx context.Context, boardID, listID string) error {
	if _, err := s.listTable.DeleteEntity(ctx, boardID, listID, nil); err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

func (s *Storage) FetchCards(ctx context.Context, listID string) ([]domain.Card, error) {
	filter := "PartitionKey eq '" + escape(listID) + "'"
	pager := s.cardTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	cards := []domain.Card{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent cardEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			card, err := decodeCardEntity(ent)
			if err != nil {
				return nil, err
			}
			cards = append(cards, card)
		}
	}
	return cards, nil
}

// FetchCard resolves a card by ID alone via a row-key scan; callers do not
// know the owning list when a client addresses a card directly.
func (s *Storage) FetchCard(ctx context.Context, cardID string) (*domain.Card, error) {
	filter := "RowKey eq '" + escape(cardID) + "'"
	pager := s.cardTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent cardEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			card, err := decodeCardEntity(ent)
			if err != nil {
				return nil, err
			}
			return &card, nil
		}
	}
	return nil, nil
}

func (s *Storage) InsertCard(ctx context.Context, c domain.Card) error {
	return s.upsertCard(ctx, c)
}

func (s *Storage) UpdateCard(ctx context.Context, c domain.Card) error {
	return s.upsertCard(ctx, c)
}

func (s *Storage) upsertCard(ctx context.Context, c domain.Card) error {
	ent, err := encodeCardEntity(c)
	if err != nil {
		return err
	}
	data, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	_, err = s.cardTable.UpsertEntity(ctx, data, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return err
}

// UpdateCardOrder rewrites only the Order property via a merge update; the
// renumber path touches many rows and must not overwrite in-flight field
// edits on the bystander cards.
func (s *Storage) UpdateCardOrder(ctx context.Context, listID, cardID string, order int) error {
	data, err := json.Marshal(map[string]any{
		"PartitionKey": listID,
		"RowKey":       cardID,
		"Order":        order,
	})
	if err != nil {
		return err
	}
	_, err = s.cardTable.UpdateEntity(ctx, data, &aztables.UpdateEntityOptions{UpdateMode: aztables.UpdateModeMerge})
	return err
}

// MoveCard relocates a card across lists. Cards partition by list, so a
// cross-list move is a delete under the old partition plus an upsert under
// the new one. The upsert runs first; a crash between the two leaves a
// duplicate rather than a lost card.
func (s *Storage) MoveCard(ctx context.Context, c domain.Card, fromListID string) error {
	if err := s.upsertCard(ctx, c); err != nil {
		return err
	}
	if fromListID == c.ListID {
		return nil
	}
	if _, err := s.cardTable.DeleteEntity(ctx, fromListID, c.ID, nil); err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

func (s *Storage) DeleteCard(ctx context.Context, listID, cardID string) error {
	if _, err := s.cardTable.DeleteEntity(ctx, listID, cardID, nil); err != nil && !isNotFound(err) {
		return err
	}
	return nil
}

// FindUserByEmail resolves a registered user by email for board invites.
// Returns nil when no account matches.
func (s *Storage) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	filter := "Email eq '" + escape(strings.ToLower(email)) + "'"
	pager := s.userTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent userEntity
			if err := json.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			return &domain.User{
				ID:       ent.RowKey,
				Username: ent.Username,
				Email:    ent.Email,
				Avatar:   ent.Avatar,
			}, nil
		}
	}
	return nil, nil
}

func encodeCardEntity(c domain.Card) (cardEntity, error) {
	labels, err := json.Marshal(c.Labels)
	if err != nil {
		return cardEntity{}, err
	}
	members, err := json.Marshal(c.Members)
	if err != nil {
		return cardEntity{}, err
	}
	checklists, err := json.Marshal(c.Checklists)
	if err != nil {
		return cardEntity{}, err
	}
	due := ""
	if c.DueDate != nil {
		due = formatTime(*c.DueDate)
	}
	return cardEntity{
		Entity:      aztables.Entity{PartitionKey: c.ListID, RowKey: c.ID},
		Title:       c.Title,
		Description: c.Description,
		Order:       c.Order,
		Labels:      string(labels),
		Members:     string(members),
		DueDate:     due,
		Checklists:  string(checklists),
		CreatedAt:   formatTime(c.CreatedAt),
		UpdatedAt:   formatTime(c.UpdatedAt),
	}, nil
}

func decodeCardEntity(ent cardEntity) (domain.Card, error) {
	card := domain.Card{
		ID:          ent.RowKey,
		Title:       ent.Title,
		Description: ent.Description,
		ListID:      ent.PartitionKey,
		Order:       ent.Order,
		CreatedAt:   parseTime(ent.CreatedAt),
		UpdatedAt:   parseTime(ent.UpdatedAt),
	}
	if ent.Labels != "" {
		if err := json.Unmarshal([]byte(ent.Labels), &card.Labels); err != nil {
			return domain.Card{}, err
		}
	}
	if ent.Members != "" {
		if err := json.Unmarshal([]byte(ent.Members), &card.Members); err != nil {
			return domain.Card{}, err
		}
	}
	if ent.Checklists != "" {
		if err := json.Unmarshal([]byte(ent.Checklists), &card.Checklists); err != nil {
			return domain.Card{}, err
		}
	}
	if ent.DueDate != "" {
		due := parseTime(ent.DueDate)
		card.DueDate = &due
	}
	return card, nil
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == 404
}

func escape(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}
	}
	return t
}
