package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping DB: %v", err)
	}

	seedProviders(db)
	seedOrders(db)

	log.Println("Seeding completed successfully!")
}

func seedProviders(db *sql.DB) {
	providers := []struct {
		ID          string
		Name        string
		AdapterType string
		Credentials string
		Active      bool
	}{
		{"jne", "JNE Express", "jne", `{"api_key":"dev-jne-key","base_url":"https://apiv2.jne.co.id"}`, true},
		{"sicepat", "SiCepat Ekspres", "sicepat", `{"api_key":"dev-sicepat-key","base_url":"https://api.sicepat.com"}`, true},
		{"mock", "Mock Courier", "mock", `{}`, true},
		{"legacy-jne", "JNE (legacy account)", "jne", `{"api_key":"old-key","base_url":"https://apiv2.jne.co.id"}`, false},
	}

	fmt.Println("Seeding Providers...")
	for _, p := range providers {
		_, err := db.Exec(`
			INSERT INTO providers (id, name, adapter_type, credentials, active)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE
			SET name = EXCLUDED.name, adapter_type = EXCLUDED.adapter_type,
			    credentials = EXCLUDED.credentials, active = EXCLUDED.active`,
			p.ID, p.Name, p.AdapterType, p.Credentials, p.Active)
		if err != nil {
			log.Fatalf("Failed to seed provider %s: %v", p.ID, err)
		}
	}
}

func seedOrders(db *sql.DB) {
	orders := []struct {
		Status        string
		PaymentMethod string
		CustomerEmail string
		COD           bool
	}{
		{"processing", "transfer", "budi@example.com", false},
		{"processing", "cod", "siti@example.com", true},
		{"shipped", "cod", "andi@example.com", true},
		{"delivered", "transfer", "dewi@example.com", false},
		{"cancelled", "cod", "eko@example.com", false},
	}

	fmt.Println("Seeding Orders...")
	for _, o := range orders {
		var orderID string
		err := db.QueryRow(`
			INSERT INTO orders (status, payment_method, customer_email)
			VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING
			RETURNING id`,
			o.Status, o.PaymentMethod, o.CustomerEmail).Scan(&orderID)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			log.Fatalf("Failed to seed order for %s: %v", o.CustomerEmail, err)
		}
		if o.COD {
			if _, err := db.Exec(`
				INSERT INTO cod_tracking (order_id, state)
				VALUES ($1, 'awaiting')
				ON CONFLICT (order_id) DO NOTHING`, orderID); err != nil {
				log.Fatalf("Failed to seed COD row for order %s: %v", orderID, err)
			}
		}
	}
}
