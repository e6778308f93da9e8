package sqlinline

const QEnsureRunSchema = `--sql 3f0c9a8e-5b21-4c67-9d1e-2e8f4a6b7c10
create table if not exists integration_tokens (
    id uuid primary key,
    provider text not null unique,
    token text not null,
    properties jsonb not null default '{}'::jsonb,
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);
create table if not exists pipeline_runs (
    id uuid primary key,
    session_id uuid not null,
    description text not null default '',
    image_count int not null default 0,
    settings jsonb not null default '{}'::jsonb,
    product_lock text not null default '',
    status text not null,
    error text not null default '',
    pack_count int not null default 0,
    started_at timestamptz not null,
    finished_at timestamptz not null
);
create index if not exists pipeline_runs_session_idx on pipeline_runs (session_id, started_at desc);
create table if not exists content_packs (
    run_id uuid not null references pipeline_runs(id) on delete cascade,
    position int not null,
    pack_id text not null,
    image_url text not null default '',
    title text not null,
    description text not null,
    alt_text text not null,
    keywords text[] not null default '{}',
    source_prompt text not null default '',
    aspect_ratio text not null,
    layout_type text not null default '',
    verified boolean not null default false,
    attempts int not null default 0,
    primary key (run_id, position)
);
`

const QInsertPipelineRun = `--sql 7d2b4e61-0a9c-4f38-b5d7-91c3e6a2f804
insert into pipeline_runs (
    id, session_id, description, image_count, settings, product_lock,
    status, error, pack_count, started_at, finished_at
)
values ($1::uuid, $2::uuid, $3::text, $4::int, $5::jsonb, $6::text, $7::text, $8::text, $9::int, $10::timestamptz, $11::timestamptz)
on conflict (id) do update set
    status = excluded.status,
    error = excluded.error,
    product_lock = excluded.product_lock,
    pack_count = excluded.pack_count,
    finished_at = excluded.finished_at;
`

const QDeleteContentPacks = `--sql c51e8f07-6d3a-4b92-8e14-5a7f0b9d2c63
delete from content_packs
where run_id = $1::uuid;
`

const QInsertContentPack = `--sql 94a6d0c2-1f7e-4e5b-a839-0c2d6b8f1e75
insert into content_packs (
    run_id, position, pack_id, image_url, title, description, alt_text,
    keywords, source_prompt, aspect_ratio, layout_type, verified, attempts
)
values ($1::uuid, $2::int, $3::text, $4::text, $5::text, $6::text, $7::text, $8::text[], $9::text, $10::text, $11::text, $12::boolean, $13::int);
`

const QSelectPipelineRun = `--sql 2e7f1a95-8c4d-4d06-b3e2-6f9a0c5d7b18
select
    id::text,
    session_id::text,
    description,
    image_count,
    settings,
    product_lock,
    status,
    error,
    started_at,
    finished_at
from pipeline_runs
where id = $1::uuid
limit 1;
`

const QSelectContentPacks = `--sql 5b9c3d72-4e1f-4a80-9d6b-e2f7a1c0b349
select
    pack_id,
    image_url,
    title,
    description,
    alt_text,
    keywords,
    source_prompt,
    aspect_ratio,
    layout_type,
    verified,
    attempts
from content_packs
where run_id = $1::uuid
order by position asc;
`

const QListSessionRuns = `--sql e83a0f46-2b7c-4c15-a6d9-3f1e8b0c5d27
select
    id::text,
    session_id::text,
    description,
    image_count,
    settings,
    product_lock,
    status,
    error,
    started_at,
    finished_at
from pipeline_runs
where session_id = $1::uuid
order by started_at desc
limit $2::int;
`
