package postgres

const schemaUp = `
CREATE TABLE IF NOT EXISTS users (
    id BIGINT PRIMARY KEY,
    nickname TEXT NOT NULL DEFAULT '',
    anonymous BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS seasons (
    id BIGINT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    running BOOLEAN NOT NULL DEFAULT FALSE,
    current_problem_id BIGINT
);

CREATE TABLE IF NOT EXISTS problems (
    id BIGINT PRIMARY KEY,
    season_id BIGINT NOT NULL REFERENCES seasons(id),
    answer BIGINT NOT NULL,
    difficulty INTEGER NOT NULL DEFAULT 0,
    date TIMESTAMP WITH TIME ZONE,
    public BOOLEAN NOT NULL DEFAULT FALSE,
    point_pool DOUBLE PRECISION NOT NULL DEFAULT 0,
    weighted_solves DOUBLE PRECISION NOT NULL DEFAULT 0,
    base_points DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_problems_season ON problems(season_id, id);

CREATE TABLE IF NOT EXISTS attempts (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL,
    problem_id BIGINT NOT NULL,
    official BOOLEAN NOT NULL,
    answer BIGINT,
    raw TEXT NOT NULL DEFAULT '',
    submitted_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_attempts_user_problem ON attempts(user_id, problem_id, official);

CREATE TABLE IF NOT EXISTS solves (
    user_id BIGINT NOT NULL,
    problem_id BIGINT NOT NULL,
    attempts INTEGER NOT NULL,
    official BOOLEAN NOT NULL,
    solved_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
    PRIMARY KEY (user_id, problem_id)
);

CREATE INDEX IF NOT EXISTS idx_solves_problem ON solves(problem_id, official, user_id);

CREATE TABLE IF NOT EXISTS rankings (
    season_id BIGINT NOT NULL REFERENCES seasons(id),
    user_id BIGINT NOT NULL,
    rank INTEGER NOT NULL DEFAULT 0,
    score DOUBLE PRECISION NOT NULL DEFAULT 0,
    PRIMARY KEY (season_id, user_id)
);
`
