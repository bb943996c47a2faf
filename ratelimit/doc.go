// Package ratelimit implementa o limiter distribuído e adaptativo para a
// API da Riot: a política de quota não é declarada de antemão, ela é
// descoberta nos headers de resposta e aplicada contra contadores
// compartilhados no Redis.
//
// Visão geral (camadas):
//
//   - domain: tipos e contratos puros (Entry, enums, Decision, Store)
//   - application: casos de uso (política, cooldown, admissão) sem net/http
//   - infra: codec de chaves, store Redis com o script atômico, store em
//     memória, métricas
//   - ratelimit (este pacote): parser de headers HTTP + o façade com as
//     duas operações públicas
//
// Fluxo por chamada outbound:
//
//  1. Hit(routing, endpoint) antes de chamar o upstream: cooldown ativo
//     nega; política desconhecida vira blind request; política conhecida
//     passa pelo check-and-increment atômico multi-janela.
//  2. A chamada sai (ou não).
//  3. Refresh(headers, routing, endpoint) com a resposta: grava cooldown
//     de 429, instala política na primeira observação e espelha as
//     contagens autoritativas do upstream.
//
// As chaves do Redis são contrato externo (dashboards dependem delas);
// o layout está documentado em infra.EncodeKey.
package ratelimit
