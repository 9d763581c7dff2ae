package store

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jewelpark/poker3/internal/player"
	"github.com/jewelpark/poker3/internal/room"
	"github.com/jewelpark/poker3/internal/rules"
)

// Stored init-card condition kinds. 1..4 grant that many cards of one
// rank, 5 a sequence, 6 the joker pair.
const (
	condKindSequence = 5
	condKindRampage  = 6
)

// LoadCategory reads one room template.
func (s *Store) LoadCategory(ctx context.Context, id int64) (room.Category, error) {
	var (
		c       room.Category
		seconds int64
	)
	err := s.Pool.QueryRow(ctx,
		`SELECT id, category_name, category_type, unit_jewel, fee, time_limit
		 FROM poker3_category WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.Type, &c.UnitJewel, &c.Fee, &seconds)
	if err != nil {
		return room.Category{}, mapNotFound(err)
	}
	c.TimeLimit = time.Duration(seconds) * time.Second
	return c, nil
}

// LoadCategories lists the open room templates for the lobby.
func (s *Store) LoadCategories(ctx context.Context) ([]room.Category, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, category_name, category_type, unit_jewel, fee, time_limit
		 FROM poker3_category WHERE is_open = '1' ORDER BY category_type, unit_jewel`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []room.Category
	for rows.Next() {
		var (
			c       room.Category
			seconds int64
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Type, &c.UnitJewel, &c.Fee, &seconds); err != nil {
			return nil, err
		}
		c.TimeLimit = time.Duration(seconds) * time.Second
		out = append(out, c)
	}
	return out, rows.Err()
}

// LoadInitCardGrants reads a player's earned pre-deal card conditions.
// Malformed rows are skipped; a bad reward must not block the deal.
func (s *Store) LoadInitCardGrants(ctx context.Context, id player.ID) ([]rules.Grant, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT card_type_id, card_value, card_count
		 FROM poker3_player_init_card WHERE user_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []rules.Grant
	for rows.Next() {
		var (
			kind      int
			cardValue string
			count     int
		)
		if err := rows.Scan(&kind, &cardValue, &count); err != nil {
			return nil, err
		}
		g, err := grantFromCondition(kind, cardValue, count)
		if err != nil {
			s.logger.Warn("skipping malformed init-card row", "player", id, "err", err)
			continue
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

func grantFromCondition(kind int, cardValue string, count int) (rules.Grant, error) {
	switch {
	case kind == condKindRampage:
		return rules.Grant{Kind: rules.GrantRampage}, nil
	case kind == condKindSequence:
		rank, err := parseRankLabel(cardValue)
		if err != nil {
			return rules.Grant{}, err
		}
		return rules.Grant{Kind: rules.GrantSequence, Rank: rank, Count: count}, nil
	case kind >= 1 && kind <= 4:
		rank, err := parseRankLabel(cardValue)
		if err != nil {
			return rules.Grant{}, err
		}
		return rules.Grant{Kind: rules.GrantOfRank, Rank: rank, Count: kind}, nil
	}
	return rules.Grant{}, fmt.Errorf("condition kind %d out of range", kind)
}

func parseRankLabel(label string) (int, error) {
	switch strings.ToUpper(strings.TrimSpace(label)) {
	case "J":
		return 11, nil
	case "Q":
		return 12, nil
	case "K":
		return 13, nil
	case "A":
		return 14, nil
	case "2":
		return 15, nil
	case "3", "4", "5", "6", "7", "8", "9", "10":
		n := 0
		fmt.Sscanf(label, "%d", &n)
		return n, nil
	}
	return 0, fmt.Errorf("bad rank label %q", label)
}

// identRe guards the stored mission function name before it is placed
// in a query. Mission checks are DB functions by design; only a plain
// identifier is ever accepted.
var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// CheckMissionComplete runs the stored check function of every mission
// the player has not finished yet and flags the completed ones.
func (s *Store) CheckMissionComplete(ctx context.Context, cards []rules.Card, id player.ID, level int, roomID int64,
	missions [player.MissionsPerLevel]player.Mission) ([player.MissionsPerLevel]player.Mission, bool, error) {

	var incomplete []int64
	for _, m := range missions {
		if m.ID != 0 && m.HistoryID == 0 {
			incomplete = append(incomplete, m.ID)
		}
	}
	if len(incomplete) == 0 {
		return missions, false, nil
	}

	rows, err := s.Pool.Query(ctx,
		`SELECT m.id, m.argument, t.mission_func_name
		 FROM poker3_mission_list m
		 LEFT JOIN poker3_mission_type t ON m.mission_type_id = t.id
		 WHERE m.id = ANY($1) AND m.status > 0`, incomplete)
	if err != nil {
		return missions, false, err
	}
	type detail struct {
		id       int64
		argument string
		funcName string
	}
	var details []detail
	for rows.Next() {
		var d detail
		if err := rows.Scan(&d.id, &d.argument, &d.funcName); err != nil {
			rows.Close()
			return missions, false, err
		}
		details = append(details, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return missions, false, err
	}

	cardList := make([]string, len(cards))
	for i, c := range cards {
		cardList[i] = fmt.Sprintf("%d", int(c))
	}
	joined := strings.Join(cardList, ",")

	completed := false
	for _, d := range details {
		if !identRe.MatchString(d.funcName) {
			s.logger.Error("refusing mission check with bad function name", "mission", d.id, "func", d.funcName)
			continue
		}
		var done bool
		query := fmt.Sprintf(`SELECT %s($1, $2, $3, $4, $5)`, d.funcName)
		if err := s.Pool.QueryRow(ctx, query, joined, id, level, roomID, d.argument).Scan(&done); err != nil {
			return missions, completed, err
		}
		if !done {
			continue
		}
		for i := range missions {
			if missions[i].ID == d.id {
				missions[i].HistoryID = player.MissionCompleted
				completed = true
			}
		}
	}
	return missions, completed, nil
}

// PersistRoundHistory stores the immutable round blob and returns its
// id.
func (s *Store) PersistRoundHistory(ctx context.Context, blob []byte) (string, error) {
	id := NewID()
	_, err := s.Pool.Exec(ctx,
		`INSERT INTO poker3_round_history (id, history) VALUES ($1, $2)`, id, blob)
	if err != nil {
		return "", err
	}
	return id, nil
}

// LoadRoundHistory reads a stored round blob back for replay.
func (s *Store) LoadRoundHistory(ctx context.Context, id string) ([]byte, error) {
	var blob []byte
	err := s.Pool.QueryRow(ctx,
		`SELECT history FROM poker3_round_history WHERE id = $1`, id).Scan(&blob)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return blob, nil
}

// PersistPlayLog writes one player's settlement row and returns its id.
func (s *Store) PersistPlayLog(ctx context.Context, row room.PlayLog) (int64, error) {
	jewelColumn := "jewel"
	if row.TournamentJewels {
		jewelColumn = "tournament_jewel"
	}
	var id int64
	err := s.Pool.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO poker3_play_log
		        (history_id, player_id, room_id, category_type, team, win_type,
		         round_level, round_number, round_point, %s, free_fee, score,
		         player_level, other_player1, other_player2, finish_time)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 RETURNING id`, jewelColumn),
		row.HistoryID, row.PlayerID, row.RoomID, row.CategoryType, row.Team, row.WinType,
		row.RoundLevel, row.RoundNumber, row.RoundPoint, row.JewelDelta, row.FreeFee, row.Score,
		row.PlayerLevel, row.OtherPlayers[0], row.OtherPlayers[1], row.FinishedAt).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// PersistItemLog links consumed items to a play-log row.
func (s *Store) PersistItemLog(ctx context.Context, logs []room.ItemLog) error {
	if len(logs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, l := range logs {
		batch.Queue(
			`INSERT INTO poker3_play_item_log (item_id, play_log_id) VALUES ($1, $2)`,
			l.ItemID, l.PlayLogID)
	}
	return s.Pool.SendBatch(ctx, batch).Close()
}

// UpdateAdminJewels credits collected fees to the house account.
func (s *Store) UpdateAdminJewels(ctx context.Context, delta int64) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE sys_admin_jewel SET admin_jewel = admin_jewel + $1 WHERE id = 1`, delta)
	return err
}

// LoadTournamentRounds lists the open tournament rounds, one room per
// round id.
func (s *Store) LoadTournamentRounds(ctx context.Context, tournamentID int64) ([]room.TournamentRound, error) {
	query := `SELECT DISTINCT ON (r.room_id)
	                 r.room_id, r.tournament_id, r.entry_money, r.max_round_count, r.round_money
	          FROM sys_game_tournament_round r
	          WHERE r.status = 1`
	args := []any{}
	if tournamentID > 0 {
		query += ` AND r.tournament_id = $1`
		args = append(args, tournamentID)
	}
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []room.TournamentRound
	for rows.Next() {
		var tr room.TournamentRound
		if err := rows.Scan(&tr.RoomID, &tr.TournamentID, &tr.EntryMoney, &tr.MaxRounds, &tr.RoundMoney); err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

// CanEnterTournament reports whether the player holds an open round in
// the tournament.
func (s *Store) CanEnterTournament(ctx context.Context, id player.ID, tournamentID int64) (bool, error) {
	var ok bool
	err := s.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM sys_game_tournament_round
		                WHERE status = 1 AND user_id = $1 AND tournament_id = $2)`,
		id, tournamentID).Scan(&ok)
	return ok, err
}

// LoadTournamentEntry returns the player's entry stake for the room's
// open round. ErrNotFound when the player is not enrolled.
func (s *Store) LoadTournamentEntry(ctx context.Context, id player.ID, roomID int64) (int64, error) {
	var entry int64
	err := s.Pool.QueryRow(ctx,
		`SELECT entry_money FROM sys_game_tournament_round
		 WHERE status = 1 AND user_id = $1 AND room_id = $2`,
		id, roomID).Scan(&entry)
	if err != nil {
		return 0, mapNotFound(err)
	}
	return entry, nil
}

// UpdateTournamentRound closes out a player's tournament round with
// their final stake.
func (s *Store) UpdateTournamentRound(ctx context.Context, endAt time.Time, status int, jewels int64, tournamentID int64, id player.ID) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE sys_game_tournament_round
		 SET end_at = $1, status = $2, tournament_jewel = $3
		 WHERE tournament_id = $4 AND user_id = $5`,
		endAt, status, jewels, tournamentID, id)
	return err
}

// UpdateTournamentProcess records which round the player reached. The
// progress table keeps one column per round.
func (s *Store) UpdateTournamentProcess(ctx context.Context, roundNumber int, roundID int64, tournamentID int64, id player.ID) error {
	if roundNumber < 1 || roundNumber > 10 {
		return fmt.Errorf("round number %d out of range", roundNumber)
	}
	query := fmt.Sprintf(
		`UPDATE sys_game_tournament_process SET round_%d = $1 WHERE tournament_id = $2 AND user_id = $3`,
		roundNumber)
	_, err := s.Pool.Exec(ctx, query, roundID, tournamentID, id)
	return err
}
