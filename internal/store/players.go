package store

import (
	"context"
	"errors"
	"fmt"
	rand "math/rand/v2"

	"github.com/jackc/pgx/v5"

	"github.com/jewelpark/poker3/internal/player"
)

// gameTokenType marks poker3 rows in the shared sys_token table.
const gameTokenType = 5

// ClearGameTokens deletes every poker3 login token. Run once at
// startup so clients from a previous process must log in again.
func (s *Store) ClearGameTokens(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx,
		`DELETE FROM sys_token WHERE type = $1`, gameTokenType)
	if err != nil {
		return fmt.Errorf("clear game tokens: %w", err)
	}
	return nil
}

// Identify resolves a login token to a user id. Tokens are issued by
// the account service; the game server only ever reads them.
func (s *Store) Identify(ctx context.Context, username, token string) (player.ID, error) {
	var id player.ID
	err := s.Pool.QueryRow(ctx,
		`SELECT user_id FROM sys_token WHERE token = $1 AND username = $2`,
		token, username).Scan(&id)
	if err != nil {
		return 0, mapNotFound(err)
	}
	return id, nil
}

// LoadPlayerProfile reads the user row, the game stats row and, when
// the player is enrolled in an open tournament, the tournament stake
// and progress.
func (s *Store) LoadPlayerProfile(ctx context.Context, id player.ID) (player.Profile, error) {
	p := player.Profile{ID: id, Level: 1}
	err := s.Pool.QueryRow(ctx,
		`SELECT u.userid, u.avatar, u.gender, u.coin, u.jewel, u.ip_address,
		        COALESCE(p.level, 1), COALESCE(p.score, 0), COALESCE(p.tournament_jewel, 0)
		 FROM sys_users u
		 LEFT JOIN poker3_players p ON p.user_id = u.id
		 WHERE u.id = $1`, id).
		Scan(&p.Username, &p.Avatar, &p.Gender, &p.Coin, &p.Jewels, &p.IP,
			&p.Level, &p.Score, &p.TournamentJewels)
	if err != nil {
		return player.Profile{}, mapNotFound(err)
	}

	err = s.Pool.QueryRow(ctx,
		`SELECT r.id, r.entry_money
		 FROM sys_game_tournament_round r
		 JOIN sys_game_tournament t ON r.tournament_id = t.id
		 WHERE r.user_id = $1 AND r.status = 1`, id).
		Scan(&p.TournamentRoundID, &p.TournamentJewels)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// Not enrolled.
	case err != nil:
		return player.Profile{}, err
	default:
		p.TournamentRoundNumber, err = s.tournamentRoundNumber(ctx, id)
		if err != nil {
			return player.Profile{}, err
		}
	}
	return p, nil
}

// tournamentRoundNumber finds the first unrecorded round slot in the
// player's tournament progress row.
func (s *Store) tournamentRoundNumber(ctx context.Context, id player.ID) (int, error) {
	rounds := make([]int64, 10)
	dest := make([]any, 10)
	for i := range rounds {
		dest[i] = &rounds[i]
	}
	err := s.Pool.QueryRow(ctx,
		`SELECT round_1, round_2, round_3, round_4, round_5,
		        round_6, round_7, round_8, round_9, round_10
		 FROM sys_game_tournament_process WHERE user_id = $1`, id).Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	for i, r := range rounds {
		if r == 0 {
			return i + 1, nil
		}
	}
	return 0, nil
}

// LoadMissions reads the player's mission row for a level. The second
// return is false when no row exists yet.
func (s *Store) LoadMissions(ctx context.Context, id player.ID, level int) ([player.MissionsPerLevel]player.Mission, bool, error) {
	var m [player.MissionsPerLevel]player.Mission
	err := s.Pool.QueryRow(ctx,
		`SELECT mission1_id, mission1_history_id,
		        mission2_id, mission2_history_id,
		        mission3_id, mission3_history_id
		 FROM poker3_player_missions
		 WHERE user_id = $1 AND user_level = $2`, id, level).
		Scan(&m[0].ID, &m[0].HistoryID, &m[1].ID, &m[1].HistoryID, &m[2].ID, &m[2].HistoryID)
	if errors.Is(err, pgx.ErrNoRows) {
		return m, false, nil
	}
	if err != nil {
		return m, false, err
	}
	return m, true, nil
}

// CreateMissions draws one random mission per mission type for the
// level and persists the assignment.
func (s *Store) CreateMissions(ctx context.Context, id player.ID, level int) ([player.MissionsPerLevel]player.Mission, error) {
	var missions [player.MissionsPerLevel]player.Mission

	rows, err := s.Pool.Query(ctx,
		`SELECT id, mission_type_id FROM poker3_mission_list
		 WHERE level = $1 ORDER BY mission_type_id`, level)
	if err != nil {
		return missions, err
	}
	defer rows.Close()

	byType := make(map[int64][]int64)
	var typeOrder []int64
	for rows.Next() {
		var missionID, typeID int64
		if err := rows.Scan(&missionID, &typeID); err != nil {
			return missions, err
		}
		if _, seen := byType[typeID]; !seen {
			typeOrder = append(typeOrder, typeID)
		}
		byType[typeID] = append(byType[typeID], missionID)
	}
	if err := rows.Err(); err != nil {
		return missions, err
	}

	for i, typeID := range typeOrder {
		if i >= player.MissionsPerLevel {
			break
		}
		pool := byType[typeID]
		missions[i].ID = pool[rand.IntN(len(pool))]
	}

	_, err = s.Pool.Exec(ctx,
		`INSERT INTO poker3_player_missions
		        (user_id, user_level,
		         mission1_id, mission1_history_id,
		         mission2_id, mission2_history_id,
		         mission3_id, mission3_history_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		id, level,
		missions[0].ID, missions[0].HistoryID,
		missions[1].ID, missions[1].HistoryID,
		missions[2].ID, missions[2].HistoryID)
	if err != nil {
		return missions, err
	}
	return missions, nil
}

// UpdateMissions writes back the history ids after settlement.
func (s *Store) UpdateMissions(ctx context.Context, id player.ID, level int, missions [player.MissionsPerLevel]player.Mission) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE poker3_player_missions
		 SET mission1_history_id = $1, mission2_history_id = $2, mission3_history_id = $3
		 WHERE user_id = $4 AND user_level = $5`,
		missions[0].HistoryID, missions[1].HistoryID, missions[2].HistoryID, id, level)
	return err
}

// LoadItems reads the player's inventory, parsing each stored effect
// descriptor once. Rows with descriptors the code does not understand
// are skipped with a warning rather than failing the login.
func (s *Store) LoadItems(ctx context.Context, id player.ID) ([]*player.Item, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT i.id, i.item_name, i.cost, i.use_func_name, i.use_func_argument, pi.item_count
		 FROM poker3_player_items pi
		 JOIN poker3_items i ON i.id = pi.item_id
		 WHERE pi.user_id = $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*player.Item
	for rows.Next() {
		var (
			item     player.Item
			funcName string
			argument string
		)
		if err := rows.Scan(&item.ID, &item.Name, &item.Cost, &funcName, &argument, &item.Count); err != nil {
			return nil, err
		}
		effect, err := player.ParseEffect(funcName, argument)
		if err != nil {
			s.logger.Warn("skipping item with bad effect descriptor", "item", item.ID, "err", err)
			continue
		}
		item.Effect = effect
		item.UseLimit = player.ParseUseLimit(argument)
		items = append(items, &item)
	}
	return items, rows.Err()
}

// PersistItemCount writes the remaining stock after a consumption.
func (s *Store) PersistItemCount(ctx context.Context, id player.ID, itemID int64, count int) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE poker3_player_items SET item_count = $1 WHERE user_id = $2 AND item_id = $3`,
		count, id, itemID)
	return err
}

// PersistPlayerBalances writes the post-settlement balances: jewels on
// the account row, game stats on the poker3 row.
func (s *Store) PersistPlayerBalances(ctx context.Context, id player.ID, jewels, tournamentJewels int64, score float64, level int) error {
	if _, err := s.Pool.Exec(ctx,
		`UPDATE sys_users SET jewel = $1 WHERE id = $2`, jewels, id); err != nil {
		return fmt.Errorf("update user jewels: %w", err)
	}
	if _, err := s.Pool.Exec(ctx,
		`UPDATE poker3_players SET tournament_jewel = $1, score = $2, level = $3 WHERE user_id = $4`,
		tournamentJewels, score, level, id); err != nil {
		return fmt.Errorf("update player stats: %w", err)
	}
	return nil
}
