package testutil

import (
	"database/sql"
	"testing"
)

// SeedStaging creates a small application database laid out like the default
// catalog's registry, with two superset-only modules (helpdesk, web_studio)
// still installed, helpdesk tables present and a foreign key from the shared
// res_partner table into helpdesk_team.
func SeedStaging(t *testing.T, db *sql.DB) {
	t.Helper()
	Exec(t, db,
		`CREATE TABLE ir_module_module (id INTEGER PRIMARY KEY, name TEXT NOT NULL, state TEXT NOT NULL)`,
		`INSERT INTO ir_module_module (id, name, state) VALUES
			(1, 'base', 'installed'),
			(2, 'sale', 'installed'),
			(3, 'helpdesk', 'installed'),
			(4, 'web_studio', 'to upgrade'),
			(5, 'documents', 'uninstalled')`,

		`CREATE TABLE ir_module_module_dependency (id INTEGER PRIMARY KEY, module_id INTEGER, name TEXT)`,
		`INSERT INTO ir_module_module_dependency (id, module_id, name) VALUES
			(1, 2, 'base'),
			(2, 3, 'base'),
			(3, 4, 'base'),
			(4, 2, 'web_studio')`,

		`CREATE TABLE ir_model (id INTEGER PRIMARY KEY, model TEXT NOT NULL)`,
		`INSERT INTO ir_model (id, model) VALUES
			(1, 'res.partner'),
			(2, 'helpdesk.ticket'),
			(3, 'helpdesk.team'),
			(4, 'sale.order')`,

		`CREATE TABLE ir_model_data (id INTEGER PRIMARY KEY, module TEXT, model TEXT, name TEXT)`,
		`INSERT INTO ir_model_data (id, module, model, name) VALUES
			(1, 'base', 'res.partner', 'main_partner'),
			(2, 'helpdesk', 'helpdesk.team', 'team_support'),
			(3, 'web_studio', 'ir.ui.view', 'studio_view'),
			(4, 'sale', 'helpdesk.ticket', 'sale_ticket_link'),
			(5, 'sale', 'sale.order', 'order_seq')`,

		`CREATE TABLE ir_cron (id INTEGER PRIMARY KEY, active BOOLEAN NOT NULL, model_id INTEGER)`,
		`INSERT INTO ir_cron (id, active, model_id) VALUES (1, TRUE, 1), (2, TRUE, 2), (3, TRUE, 3)`,

		`CREATE TABLE base_automation (id INTEGER PRIMARY KEY, active BOOLEAN NOT NULL, model_id INTEGER)`,
		`INSERT INTO base_automation (id, active, model_id) VALUES (1, TRUE, 3), (2, TRUE, 4)`,

		`CREATE TABLE ir_ui_view (id INTEGER PRIMARY KEY, model TEXT, "key" TEXT)`,
		`INSERT INTO ir_ui_view (id, model, "key") VALUES
			(1, 'res.partner', 'base.partner_form'),
			(2, 'helpdesk.ticket', 'helpdesk.ticket_form'),
			(3, 'sale.order', 'web_studio.sale_custom'),
			(4, 'sale.order', 'sale.order_form')`,

		`CREATE TABLE ir_act_window (id INTEGER PRIMARY KEY, res_model TEXT)`,
		`INSERT INTO ir_act_window (id, res_model) VALUES (1, 'helpdesk.ticket'), (2, 'sale.order')`,

		`CREATE TABLE ir_ui_menu (id INTEGER PRIMARY KEY, action_id INTEGER)`,
		`INSERT INTO ir_ui_menu (id, action_id) VALUES (1, 1), (2, 2), (3, NULL)`,

		`CREATE TABLE helpdesk_team (id INTEGER PRIMARY KEY, name TEXT)`,
		`INSERT INTO helpdesk_team (id, name) VALUES (1, 'Support'), (2, 'Billing')`,

		`CREATE TABLE res_partner (id INTEGER PRIMARY KEY, name TEXT, helpdesk_team_id INTEGER REFERENCES helpdesk_team(id))`,
		`INSERT INTO res_partner (id, name, helpdesk_team_id) VALUES (1, 'Acme', 1), (2, 'Globex', NULL)`,

		`CREATE TABLE helpdesk_ticket (id INTEGER PRIMARY KEY, team_id INTEGER REFERENCES helpdesk_team(id), partner_id INTEGER REFERENCES res_partner(id), subject TEXT)`,
		`INSERT INTO helpdesk_ticket (id, team_id, partner_id, subject) VALUES (1, 1, 1, 'Broken'), (2, 2, 2, 'Refund')`,

		`CREATE TABLE sale_order (id INTEGER PRIMARY KEY, partner_id INTEGER REFERENCES res_partner(id), amount_total REAL)`,
		`INSERT INTO sale_order (id, partner_id, amount_total) VALUES (1, 1, 100.0)`,

		`CREATE UNIQUE INDEX res_partner_name_idx ON res_partner (name)`,
		`CREATE TRIGGER res_partner_cleanup AFTER DELETE ON res_partner BEGIN
			DELETE FROM sale_order WHERE partner_id = OLD.id;
		END`,
	)
}
