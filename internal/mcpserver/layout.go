package mcpserver

// FileLayoutContract describes how submissions land in the storage backend.
const FileLayoutContract = `# Survey File Layout

Every webhook submission produces up to two CSV files in the target folder.

## Individual files

    {study_type}_{source}_{participantID}_{MM-DD-YYYY}.csv

One file per submission. A missing participant id becomes ` + "`unknown`" + `. When
the name is taken, ` + "`_1`, `_2`" + `, ... is inserted before the extension.

## Master file

    {study_type}_{source}_master_{MM-DD-YYYY}.csv

One per (study type, source) pair and folder. Each submission appends one
row. The date in the name is the latest response date seen; it never moves
backwards.

## CSV shape

1. Row 1: group label per column (defaults to the field key).
2. Row 2: question label per column (defaults to the field key).
3. Rows 3+: one row of response values per submission.

Headers always reflect the most recent submission's labels. Older rows keep
their original column positions, so they can misalign when a survey's field
order changes.
`
