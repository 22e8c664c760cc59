package sqlinline

const QSelectIntegrationToken = `--sql 3f1c9a84-52be-4b0a-9d6e-1ac2f07d5b39
select token
from integration_tokens
where provider = $1::text
limit 1;
`

const QUpsertIntegrationToken = `--sql b76e2d10-9c44-4aa1-8f02-63de91c4a7e5
with incoming as (
    select
        $1::text as provider,
        $2::text as token,
        coalesce($3::jsonb, '{}'::jsonb) as properties
)
insert into integration_tokens (id, provider, token, properties, created_at, updated_at)
values (gen_random_uuid(), (select provider from incoming), (select token from incoming), (select properties from incoming), now(), now())
on conflict (provider) do update set
    token = excluded.token,
    properties = excluded.properties,
    updated_at = now();
`

const QDeleteIntegrationToken = `--sql 5d92c0fe-31a7-4e86-b54c-08af76e1d923
delete from integration_tokens
where provider = $1::text;
`
