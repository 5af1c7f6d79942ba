// Copyright (c) 2024 SIROS Foundation
// SPDX-License-Identifier: BSD-2-Clause

/*
Package ledger records the lifecycle of bulk export requests.

Every accepted request gets one entry, keyed by request type, date range,
document type and issuer. A second submission with the same key is detected
through [Store.Lookup] before any network call is made.

Entries move forward only:

	submitted -> ready -> retrieved

Updating to the current state is a no-op; moving backwards returns
[ErrInvalidTransition]. Entries are never deleted.

# Backends

[FileStore] keeps the ledger as a comma separated file:

	id,request_type,date_from,date_to,doc_type,issuer_id,submitted_date,state,completed_date

Updates rewrite only the affected line and replace the file atomically, so a
crash never leaves a partial row. The mongodb package in internal/storage
implements the same contracts on a database.

# Pending Lists and Packages

[PendingList] holds the ids awaiting verification or download. Downloaded
packages go to a [PackageStore]; a [PackageIndex] remembers which request
each package belongs to.

None of the types here lock; one writer per ledger is assumed.
*/
package ledger
