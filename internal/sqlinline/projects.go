package sqlinline

const QUpsertProjectSnapshot = `--sql 7a40d1c6-e583-4f2b-a917-2c6b90fd84ea
insert into project_snapshots (id, title, snapshot, created_at, updated_at)
values ($1::uuid, $2::text, $3::jsonb, now(), now())
on conflict (id) do update set
    title = excluded.title,
    snapshot = excluded.snapshot,
    updated_at = now();
`

const QSelectProjectSnapshot = `--sql 914bfa27-6c05-4d38-8e1a-f50c23a7d6b4
select snapshot
from project_snapshots
where id = $1::uuid
limit 1;
`

const QListProjectSnapshots = `--sql c25e8b93-07d4-46fa-b6c1-58a91e3f02d7
select id, title, updated_at
from project_snapshots
order by updated_at desc;
`

const QDeleteProjectSnapshot = `--sql e6832f4a-b1d9-40c7-95e8-7fa4c60d218b
delete from project_snapshots
where id = $1::uuid;
`
